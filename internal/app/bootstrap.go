// Package app is the composition root: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"

	"peaceseal.io/herald/internal/api/handlers"
	"peaceseal.io/herald/internal/app/modules"
	"peaceseal.io/herald/internal/config"
	"peaceseal.io/herald/internal/infrastructure"
	"peaceseal.io/herald/internal/jobs"
	"peaceseal.io/herald/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Redis   *redis.Client
	Pools   *worker.Pools
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	notificationModule, err := modules.NewNotificationModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init notification module: %w", err)
	}
	baseModules := []modules.Module{notificationModule}

	workers := river.NewWorkers()
	for _, mod := range baseModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}
	// Retention cleanup: daily, and once on startup.
	if infra.RiverClient != nil {
		infra.RiverClient.PeriodicJobs().Add(jobs.PeriodicCleanupJob())
	}

	deliveryModule, err := modules.NewDeliveryModule(infra, notificationModule)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init delivery module: %w", err)
	}

	allModules := append(baseModules, deliveryModule)
	serverDeps := modules.NewServerDeps(cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, serverDeps.JWTCfg, infra.Redis),
		DB:      infra.DB,
		Redis:   infra.Redis,
		Pools:   infra.Pools,
		Modules: allModules,
	}, nil
}
