package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wayback-fetcher/internal/config"
	"wayback-fetcher/internal/downloader"
	"wayback-fetcher/internal/metrics"
	"wayback-fetcher/internal/runner"
)

func runCommand() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "run <domain>",
		Short: "Index a domain and optionally download its captures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			cfg.Domain = args[0]
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runFetch(cmd.Context(), cfg, assumeYes)
		},
	}

	f := cmd.Flags()
	f.Int("limit", 150000, "maximum number of index rows to fetch, 0 for no limit")
	f.Bool("http", false, "use plain HTTP for the index and archive")
	f.StringP("output-folder", "o", "", "output folder (default output/<domain>_<time>)")
	f.String("output-format", "both", "report format: csv, json or both")
	f.StringSliceP("extensions", "e", nil, "file extensions to target, comma separated")
	f.StringSliceP("mimetypes", "m", nil, "MIME types to target, comma separated")
	f.StringP("regex", "r", "", "regular expression matched against the URL path")
	f.IntSlice("statuscodes", []int{200}, "HTTP status codes to keep")
	f.Bool("download", false, "download first, last and current version of every target")
	f.Bool("download-first", false, "download the first captured version")
	f.Bool("download-last", false, "download the last captured version")
	f.Bool("download-firstlast", false, "download the first and the last version when they differ")
	f.Bool("download-current", false, "download the current version from the live site")
	f.BoolP("structured", "s", false, "mirror the URL directories under files/")
	f.IntP("threads", "t", 1, fmt.Sprintf("parallel downloads (%d-%d)", downloader.MinThreads, downloader.MaxThreads))
	f.Int("download-timeout", 0, "timeout in seconds for every download, overrides the two below")
	f.Int("download-timeout-wayback", 120, "timeout in seconds for archived downloads")
	f.Int("download-timeout-origin", 60, "timeout in seconds for live downloads")
	f.Int("download-retries", 2, "retries after a failed download")
	f.Int("download-retries-delay", 5, "seconds to wait between retries")
	f.Bool("deduplicate", false, "remove downloaded files with identical content")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.BoolVarP(&assumeYes, "yes", "y", false, "download without asking when no filter is set")

	bindFlags(cmd, map[string]string{
		"limit":                    "index.limit",
		"http":                     "index.http",
		"output-folder":            "output.dir",
		"output-format":            "output.format",
		"extensions":               "filter.extensions",
		"mimetypes":                "filter.mime_types",
		"regex":                    "filter.regex",
		"statuscodes":              "filter.status_codes",
		"download":                 "download.all",
		"download-first":           "download.first",
		"download-last":            "download.last",
		"download-firstlast":       "download.first_last",
		"download-current":         "download.current",
		"structured":               "download.structured",
		"threads":                  "download.threads",
		"download-timeout":         "download.timeout",
		"download-timeout-wayback": "download.timeout_archive",
		"download-timeout-origin":  "download.timeout_origin",
		"download-retries":         "download.retries",
		"download-retries-delay":   "download.retry_delay",
		"deduplicate":              "download.deduplicate",
		"metrics-addr":             "metrics.addr",
	})
	return cmd
}

func runFetch(ctx context.Context, cfg config.Config, assumeYes bool) error {
	logger := newLogger(cfg)

	db, runs, err := openLedger(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	m := metrics.New(nil)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler()}
		go func() {
			logger.Infof("metrics on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warnf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	deps := runner.Deps{
		Runs:    runs,
		Storage: store,
		Metrics: m,
		Logger:  logger,
	}
	if !assumeYes {
		deps.Confirm = promptConfirm
	}

	run, err := runner.New(cfg, deps).Run(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"output": run.OutputDir,
	}).Info("done")
	return nil
}

func promptConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s (y/N)> ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
