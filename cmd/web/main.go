package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/config"
	"globlept.co.uk/app/internal/database"
	apphttp "globlept.co.uk/app/internal/http"
	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/logging"
	"globlept.co.uk/app/internal/mailer"
	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/modules/users"
	"globlept.co.uk/app/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, syncLogs, err := logging.New(cfg.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer syncLogs()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		syncLogs()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sentryOn := cfg.Sentry.DSN != ""
	if sentryOn {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Env}); err != nil {
			return fmt.Errorf("sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	docs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	dispatcher, closeQueue, err := newDispatcher(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	processor, err := newProcessor(cfg.Payments)
	if err != nil {
		return err
	}

	directory := users.NewDirectory(db)

	rx := prescriptions.NewService(db, docs, dispatcher, cfg.Payments.Currency)
	rx.SetLogger(logger)
	review := prescriptions.NewReviewService(db, directory, dispatcher)
	review.SetLogger(logger)

	intents := payments.NewIntentService(db, processor, payments.IntentConfig{
		Timeout:   cfg.Payments.Timeout,
		TTL:       cfg.Payments.IntentTTL,
		ReturnURL: cfg.Payments.ReturnURL,
	})
	intents.SetLogger(logger)
	rx.SetIntentReleaser(intents)
	review.SetIntentReleaser(intents)

	materializer := orders.NewMaterializer()
	materializer.SetLogger(logger)
	reconciler := payments.NewReconciler(db, processor, materializer, dispatcher, cfg.Payments.Timeout)
	reconciler.SetLogger(logger)
	refunds := payments.NewRefundService(db, processor, dispatcher, cfg.Payments.Timeout)
	refunds.SetLogger(logger)
	webhooks := payments.NewWebhookService(db, reconciler, refunds)
	webhooks.SetLogger(logger)

	fulfillment := orders.NewFulfillmentService(db, dispatcher)
	fulfillment.SetLogger(logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := apphttp.NewRouter(logger, apphttp.Deps{
		DB:            db,
		Tokens:        middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Prescriptions: rx,
		Review:        review,
		Fulfillment:   fulfillment,
		Intents:       intents,
		Reconciler:    reconciler,
		Webhooks:      webhooks,
		Refunds:       refunds,
		Processors:    []payments.Processor{processor},
		Sentry:        sentryOn,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr, "env", cfg.Env, "payment_provider", processor.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

func newProcessor(cfg config.PaymentsConfig) (payments.Processor, error) {
	switch cfg.Provider {
	case "stripe":
		return payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	case "mock":
		return payments.NewMockProcessor(cfg.MockWebhookSecret, cfg.MockAutoSucceed), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// newDispatcher wires customer email and the staff queue. Pub/Sub is used
// when a project is configured, otherwise staff messages go to the inbox.
func newDispatcher(ctx context.Context, cfg config.Config, db *gorm.DB, logger *slog.Logger) (*notify.Dispatcher, func(), error) {
	m, err := mailer.New(cfg.Mail, logger)
	if err != nil {
		return nil, nil, err
	}
	catalogue, err := notify.LoadCatalogue()
	if err != nil {
		return nil, nil, err
	}
	email := notify.NewEmailNotifier(catalogue, m, cfg.Mail.FromAddr, cfg.Mail.FromName)

	var (
		queue   notify.StaffQueue
		closeFn = func() {}
	)
	if cfg.Notify.PubSubProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Notify.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub: %w", err)
		}
		topic := client.Topic(cfg.Notify.PubSubTopic)
		q, err := notify.NewPubSubQueue(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		queue = q
		closeFn = func() {
			topic.Stop()
			_ = client.Close()
		}
	} else {
		queue = notify.NewEmailQueue(email, cfg.Notify.StaffInbox)
	}

	return notify.NewDispatcher(users.NewDirectory(db), email, queue, logger), closeFn, nil
}
