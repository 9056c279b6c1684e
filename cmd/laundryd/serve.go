package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"laundry-display-sync/config"
	"laundry-display-sync/internal/api"
	"laundry-display-sync/internal/db"
	"laundry-display-sync/internal/device"
	"laundry-display-sync/internal/engine"
	"laundry-display-sync/internal/model"
	"laundry-display-sync/internal/notification"
	"laundry-display-sync/internal/store"
	"laundry-display-sync/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the display service for every configured device",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("devices", len(cfg.Devices)).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := appStore.UpsertDevices(ctx, deviceRows(cfg.Devices)); err != nil {
		return fmt.Errorf("failed to store devices: %w", err)
	}

	var webpushOptions *webpush.Options
	var hooks []device.TransitionFunc
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pool.Start(ctx)
		hooks = append(hooks, pool.OnTransition)
	} else {
		log.Warn().Msg("VAPID keys are not configured; push notifications are disabled")
	}

	var nc *nats.Conn
	if usesNATS(cfg.Devices) {
		nc, err = transport.Connect(cfg.NATS)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Drain()
	}

	clock := clockwork.NewRealClock()
	engineCfg := engine.Config{
		DriftThreshold: cfg.Engine.DriftThresholdSeconds,
		LogWindow:      cfg.Engine.LogWindow,
	}

	registry := device.NewRegistry()
	var transports []transport.Transport
	for _, d := range cfg.Devices {
		runner := device.NewRunner(d.ID, d.Name, engineCfg, clock, hooks...)
		if err := registry.Add(runner); err != nil {
			return err
		}

		// A nil *nats.Conn must not become a non-nil Subscriber.
		var sub transport.Subscriber
		if nc != nil {
			sub = nc
		}
		t, err := transport.New(d.ID, d.Transport, runner, clock, sub)
		if err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}
		transports = append(transports, t)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx)
	}()
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			t.Run(ctx)
		}(t)
	}

	sockets := api.NewConnectionManager(api.DefaultConnectionConfig())
	handler := api.NewHandler(appStore, registry, webpushOptions, sockets)
	router := api.NewRouter(handler, cfg.Server)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodDelete},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: c.Handler(router),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, stopping services")
	case err := <-serverErr:
		stop()
		wg.Wait()
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sockets.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	wg.Wait()

	log.Info().Msg("server gracefully stopped")
	return nil
}

func deviceRows(devices []config.DeviceConfig) []model.Device {
	rows := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		source := d.Transport.URL
		if d.Transport.Kind == config.TransportNATS {
			source = d.Transport.Subject
		}
		rows = append(rows, model.Device{
			ID:          d.ID,
			DisplayName: d.Name,
			Transport:   d.Transport.Kind,
			Source:      source,
		})
	}
	return rows
}

func usesNATS(devices []config.DeviceConfig) bool {
	for _, d := range devices {
		if d.Transport.Kind == config.TransportNATS {
			return true
		}
	}
	return false
}
