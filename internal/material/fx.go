package material

import (
	"github.com/smallbiznis/printora/internal/material/repository"
	"github.com/smallbiznis/printora/internal/material/service"
	"go.uber.org/fx"
)

var Module = fx.Module("material.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
