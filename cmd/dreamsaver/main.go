// Package main запускает HTTP-сервер сервиса накоплений.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/dreamsaver/internal/config"
	"github.com/mmeshcher/dreamsaver/internal/delivery"
	"github.com/mmeshcher/dreamsaver/internal/handler"
	"github.com/mmeshcher/dreamsaver/internal/lock"
	"github.com/mmeshcher/dreamsaver/internal/metrics"
	"github.com/mmeshcher/dreamsaver/internal/middleware"
	"github.com/mmeshcher/dreamsaver/internal/notify"
	"github.com/mmeshcher/dreamsaver/internal/payment"
	"github.com/mmeshcher/dreamsaver/internal/repository"
	"github.com/mmeshcher/dreamsaver/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		sugar.Warnw("failed to load .env", "error", err.Error())
	}

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var locker *lock.Locker
	if cfg.RedisURL != "" {
		rdb, err := lock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()
		locker = lock.NewLocker(rdb)
	}

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			sugar.Fatalw("nats connection error", "error", err.Error())
		}
		publisher = nc
	}
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gateway := payment.NewGateway(payment.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		APIURL:        cfg.StripeAPIURL,
		AppID:         cfg.AppID,
		Currency:      cfg.Currency,
		SessionTTL:    cfg.CheckoutTTL,
	})

	svc := service.NewService(repo, gateway, delivery.NewClient(cfg.DeliveryServiceAddress), locker, m, logger, service.Options{
		PublicURL:          cfg.PublicURL,
		RefundFeePercent:   cfg.RefundFeePercent,
		DraftSweepInterval: cfg.DraftSweepInterval,
	})
	defer svc.Close()

	dispatcher := notify.NewDispatcher(repo, publisher, m, logger, cfg.NotifyInterval)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.RunDraftSweeper(ctx)
	})

	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting dreamsaver server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Останавливаем сервер при отмене контекста: сигнал или ошибка в другой горутине.
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}
