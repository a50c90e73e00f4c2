package compensation

import (
	"github.com/smallbiznis/instructorledger/internal/compensation/repository"
	"github.com/smallbiznis/instructorledger/internal/compensation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compensation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
