package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KE-WhyNot/BE-finance-service-sub000/configs"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/auth"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/broadcast"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/feed"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/server"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/wire"
)

func main() {
	logger := configs.NewLogger()
	appConfig := configs.AppLoad()

	if len(appConfig.Feed.Credentials) == 0 {
		logger.Fatal("No credentials configured, set KIS_APP_KEYS")
	}

	sink, err := broadcast.NewKafkaSink(appConfig.Kafka.Broker, appConfig.Kafka.Topic, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize Kafka sink")
	}
	defer sink.Close()

	tokenCache := auth.NewCache(auth.Config{
		ApprovalURL:   appConfig.Auth.ApprovalURL,
		RefreshMargin: appConfig.Auth.RefreshMargin,
		Validity:      appConfig.Auth.Validity,
	}, nil, logger)

	allocator := feed.NewAllocator(feed.AllocatorConfig{
		WSURL:               appConfig.Feed.WSURL,
		SubscriptionCeiling: appConfig.Feed.SubscriptionCeiling,
		OpenCooldown:        appConfig.Feed.OpenCooldown,
	}, tokenCache, sink, logger)
	defer allocator.StopAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	types := wire.ParseSubscriptionTypes(appConfig.Feed.SubscriptionTypes)
	if len(types) == 0 {
		logger.Fatal("No supported subscription types configured, set FEED_SUBSCRIPTION_TYPES")
	}
	if err := allocator.Start(ctx, appConfig.Feed.Instruments, appConfig.Feed.Credentials, types); err != nil {
		logger.WithField("error", err).Fatal("Feed allocation failed")
	}
	logger.WithField("sessions", allocator.ActiveCount()).Info("Feed started")

	// Status surface for health checks while the sessions run.
	router := server.NewRouter(&server.Config{
		FeedHandler: server.NewFeedHandler(allocator),
	})
	go func() {
		if err := router.Run(appConfig.Server.FeedAddr); err != nil {
			logger.WithField("error", err).Error("Status server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal, gracefully shutting down...")
}
