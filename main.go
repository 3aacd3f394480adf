package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"speech-commands/config"
	"speech-commands/db"
	"speech-commands/tracing"
	"speech-commands/utils"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	err := utils.CreateFolder("tmp")
	if err != nil {
		logger := utils.GetLogger()
		err := xerrors.New(err)
		ctx := context.Background()
		logger.ErrorContext(ctx, "Failed create tmp dir.", slog.Any("error", err))
	}
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "speech-commands",
		Short:        "Train and serve a spoken command classifier",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", utils.GetEnv("SPEECH_CONFIG", ""), "optional YAML config file")
	cmd.AddCommand(serveCmd(), downloadCmd())
	return cmd
}

// loadConfig reads settings and starts tracing. The returned func flushes spans.
func loadConfig(ctx context.Context) (config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}

	shutdown := func() {}
	if err := tracing.Initialize(ctx, tracing.Config{ServiceName: "speech-commands", Exporter: cfg.Tracing}); err != nil {
		logger := utils.GetLogger()
		logger.WarnContext(ctx, "tracing disabled", slog.Any("error", xerrors.New(err)))
	} else {
		shutdown = func() { _ = tracing.Shutdown(context.Background()) }
	}
	return cfg, shutdown, nil
}

func serveCmd() *cobra.Command {
	var port, protocol string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and socket.io server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, shutdown, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			defer shutdown()

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("proto") {
				cfg.Server.Protocol = protocol
			}
			serve(cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "5000", "Port to use")
	cmd.Flags().StringVar(&protocol, "proto", "http", "Protocol to use (http or https)")
	return cmd
}

func downloadCmd() *cobra.Command {
	var root, table string
	var force bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Mirror the catalogued dataset from object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, shutdown, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer shutdown()

			app, err := newApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.close()

			res, err := app.downloader.Download(ctx, root, table, force)
			if err != nil {
				return err
			}
			out, _ := json.Marshal(res)
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "data", "local folder and key prefix of the dataset")
	cmd.Flags().StringVar(&table, "table", db.DefaultCatalogTable, "catalog table listing the objects")
	cmd.Flags().BoolVar(&force, "force", false, "download files that already exist")
	return cmd
}
