package events

import (
	"github.com/smallbiznis/instructorledger/internal/events/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(
		NewOutbox,
		func(o *Outbox) domain.Publisher { return o },
		NewDispatcher,
		func(d *OutboxDispatcher) domain.Dispatcher { return d },
	),
)
