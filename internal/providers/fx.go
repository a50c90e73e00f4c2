package providers

import (
	"github.com/smallbiznis/instructorledger/internal/providers/email"
	"github.com/smallbiznis/instructorledger/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
)
