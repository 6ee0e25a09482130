// Command fetcher lists and downloads a domain's captures from the Wayback Machine.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wayback-fetcher/internal/config"
	"wayback-fetcher/internal/repository/sqlite"
	"wayback-fetcher/internal/service"
	"wayback-fetcher/internal/storage"
)

var (
	cfgFile string

	v *viper.Viper = config.New()

	rootCmd = &cobra.Command{
		Use:           "fetcher",
		Short:         "Fetch a domain's archived captures from the Wayback Machine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("database", "", "path of the run ledger database")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	_ = v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("database"))
	_ = v.BindPFlag("log.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(runCommand(), serveCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Log.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// openLedger opens the database and prepares every table.
func openLedger(ctx context.Context, path string) (*sql.DB, service.RunService, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	runs := sqlite.NewRunRepository(db)
	records := sqlite.NewRecordRepository(db)
	results := sqlite.NewResultRepository(db)
	if err := sqlite.InitAll(ctx, runs, records, results); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, service.NewRunService(runs, records, results), nil
}

// buildStorage returns nil when no bucket is configured.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}

func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}
