package main

import (
	"context"

	"github.com/KE-WhyNot/BE-finance-service-sub000/configs"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/chart"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/history"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/server"
)

func main() {
	logger := configs.NewLogger()
	appConfig := configs.AppLoad()

	var store chart.Store
	if appConfig.Chart.RedisAddr != "" {
		redisStore, err := chart.NewRedisStore(context.Background(), appConfig.Chart.RedisAddr)
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to connect to Redis")
		}
		defer redisStore.Close()
		store = redisStore
		logger.WithField("addr", appConfig.Chart.RedisAddr).Info("Using Redis chart cache")
	} else {
		store = chart.NewMemoryStore()
		logger.Info("Using in-memory chart cache")
	}

	historyClient := history.NewClient(appConfig.Chart.HistoryURL, appConfig.Chart.RequestsPerSecond, nil, logger)
	chartService := chart.NewService(store, historyClient, logger)

	router := server.NewRouter(&server.Config{
		ChartHandler: server.NewChartHandler(chartService),
	})

	logger.WithField("addr", appConfig.Server.APIAddr).Info("Chart API listening")
	if err := router.Run(appConfig.Server.APIAddr); err != nil {
		logger.WithField("error", err).Fatal("Chart API stopped")
	}
}
