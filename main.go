package main

import (
	"github.com/openclass/liveforum/config"
	"github.com/openclass/liveforum/controllers"
	"github.com/openclass/liveforum/gateway"
	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/realtime"
	"github.com/openclass/liveforum/routes"
	"github.com/openclass/liveforum/store"
	"github.com/openclass/liveforum/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.User{}, &models.Post{}, &models.Comment{})

	registry := realtime.NewRegistry()
	bus := realtime.NewBus(registry, utils.Sugar)
	agg := store.NewAggregate(store.NewGormPersister(db), utils.Sugar)
	gw := gateway.New(agg, bus, utils.Sugar, utils.InvalidateByPrefix)

	forumController := controllers.NewForumController(agg, gw, registry)
	wsController := controllers.NewWSController(agg, gw, bus, registry, utils.Sugar)

	r := routes.SetupRouter(forumController, wsController)

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, wsController.DrainSessions); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
