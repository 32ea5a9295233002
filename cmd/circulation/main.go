package main

import (
	"context"
	stdLog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Astemirdum/library-circulation/circulation/app"
	"github.com/Astemirdum/library-circulation/circulation/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		stdLog.Fatal("load envs from .env ", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		store    string
	)
	loadConfig := func() (*config.Config, error) {
		opts := []config.Option{config.WithStore(store)}
		if logLevel != "" {
			lvl, err := zapcore.ParseLevel(logLevel)
			if err != nil {
				return nil, err
			}
			opts = append(opts, config.WithLogLevel(lvl))
		}
		return config.NewConfig(opts...), nil
	}

	root := &cobra.Command{
		Use:           "circulation",
		Short:         "Library circulation service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&store, "store", "", "overrides STORE (postgres|memory)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the daily sweep and the broker consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app.Run(cfg)
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run the overdue and hold expiry passes once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Sweep(ctx, cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return app.Migrate(context.Background(), cfg)
		},
	})
	return root
}
