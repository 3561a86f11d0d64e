package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zentra/nbot/internal/bot"
	"github.com/zentra/nbot/internal/middleware"
	"github.com/zentra/nbot/internal/services/directory"
	"github.com/zentra/nbot/internal/services/emoter"
	"github.com/zentra/nbot/internal/services/events"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the bot and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run()
		},
	}
}

func (c *cli) run() error {
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	b, err := bot.New(a.session, cfg.Discord.CommandGuildID, a.module)
	if err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting admin server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("Admin server failed")
	}

	b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
	return runErr
}

func (a *app) router() http.Handler {
	cfg := a.cfg
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Origin"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
		Debug:            cfg.Environment == "development",
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
	})
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(middleware.AdminAuthMiddleware(cfg.JWT.Secret))
		r.Use(middleware.RateLimitMiddleware(a.redis, cfg.Server.RateLimitRPS))

		r.Mount("/emoter", emoter.NewHandler(a.module).Routes())
		r.Mount("/emotes", directory.NewHandler(a.directory, a.cache).Routes())
	})

	r.Mount("/ws", events.NewHandler(a.hub, cfg.JWT.Secret, cfg.Server.AllowedOrigins).Routes())

	return r
}
