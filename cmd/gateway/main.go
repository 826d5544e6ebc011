package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/application"
	"github.com/pocketportal/pocketportal/internal/infrastructure/config"
	"github.com/pocketportal/pocketportal/internal/infrastructure/logger"
	httpiface "github.com/pocketportal/pocketportal/internal/interfaces/http"
	"github.com/pocketportal/pocketportal/internal/interfaces/repl"
	"github.com/pocketportal/pocketportal/internal/interfaces/telegram"
	"github.com/pocketportal/pocketportal/internal/interfaces/websocket"
	"github.com/pocketportal/pocketportal/pkg/safego"
)

func main() {
	root := &cobra.Command{
		Use:           "pocketportal",
		Short:         "Multi-model LLM gateway with task routing and tool execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), replCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func bootstrap() (*application.App, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	app, err := application.New(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return app, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway with all enabled interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var srv *httpiface.Server
			if app.Config.HTTP.Enabled {
				events := websocket.NewHandler(app.Bus, log)
				srv = httpiface.NewServer(app.Config.HTTP.Addr, app.Orchestrator, events, log)
				safego.Go(log, "http-server", func() {
					if err := srv.Start(); err != nil {
						log.Error("http server failed", zap.Error(err))
						stop()
					}
				})
			}

			if app.Config.Telegram.Enabled {
				bot, err := telegram.NewBot(app.Config.Telegram.Token, app.Config.Telegram.AllowedUsers, app.Orchestrator, log)
				if err != nil {
					return fmt.Errorf("start telegram: %w", err)
				}
				safego.Go(log, "telegram-bot", func() { bot.Run(ctx) })
			}

			log.Info("gateway started",
				zap.Bool("http", app.Config.HTTP.Enabled),
				zap.Bool("telegram", app.Config.Telegram.Enabled))

			<-ctx.Done()
			log.Info("shutting down")

			if srv != nil {
				drain, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Stop(drain); err != nil {
					log.Warn("http shutdown", zap.Error(err))
				}
			}
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive terminal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := repl.New(app.Orchestrator, os.Stdin, os.Stdout, log)
			if err != nil {
				return err
			}
			return session.Run(ctx)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe backends and print a health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer app.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			report := app.Orchestrator.HealthCheck(ctx)
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if report.Status == "unhealthy" {
				return fmt.Errorf("gateway is unhealthy")
			}
			return nil
		},
	}
}
