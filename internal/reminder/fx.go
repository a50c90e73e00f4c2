package reminder

import (
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/reminder/domain"
	"github.com/smallbiznis/instructorledger/internal/reminder/repository"
	"github.com/smallbiznis/instructorledger/internal/reminder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reminder.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) ledgerdomain.StateResetter { return svc }),
)
