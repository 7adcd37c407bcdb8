package main

import (
	"fmt"
	"log"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"parking-slots-backend/config"
	"parking-slots-backend/internal/db"
	"parking-slots-backend/internal/notification"
	"parking-slots-backend/internal/payment"
	"parking-slots-backend/internal/reconciler"
	"parking-slots-backend/internal/registry"
	"parking-slots-backend/internal/reservation"
	"parking-slots-backend/internal/store"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg        *config.Config
	db         *gorm.DB
	store      store.Store
	registry   *registry.Registry
	bookings   *reservation.Service
	reconciler *reconciler.Reconciler
	workers    *notification.WorkerPool
	webpush    *webpush.Options
}

func newApp(configPath string, logger *log.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Printf("database initialized successfully (driver %s)", cfg.Database.Driver)

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Println("Warning: VAPID keys are not configured; push notifications are disabled")
	} else {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	}

	gateway, err := payment.New(cfg.Payment)
	if err != nil {
		return nil, fmt.Errorf("failed to configure payment gateway: %w", err)
	}

	appStore := store.NewGormStore(gormDB)
	workers := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions)
	bookings := reservation.NewService(appStore, gateway, workers, cfg.Reconciler.Location, cfg.Payment.Currency)

	return &app{
		cfg:        cfg,
		db:         gormDB,
		store:      appStore,
		registry:   registry.New(appStore),
		bookings:   bookings,
		reconciler: reconciler.New(cfg.Reconciler, appStore, bookings, workers),
		workers:    workers,
		webpush:    webpushOptions,
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
