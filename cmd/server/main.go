package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"goldledger/internal/app"
	"goldledger/internal/config"
	"goldledger/internal/events"
	httpapi "goldledger/internal/http"
	"goldledger/internal/logging"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer application.Close()

	var wg sync.WaitGroup
	if cfg.KafkaEnabled() {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaInvoiceTopic)
		defer publisher.Close()
		relay := events.NewRelay(application.DB, publisher, cfg.OutboxPollInterval, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()
		log.WithField("topic", cfg.KafkaInvoiceTopic).Info("outbox relay started")
	} else {
		log.Info("KAFKA_BROKERS not set; invoice events stay in the outbox")
	}

	handler := httpapi.NewHandler(application.Service, log)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           httpapi.NewRouter(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("goldledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
		if closeErr := server.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("force close failed")
		}
	}
	wg.Wait()
	log.Info("shutdown complete")
}
