package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"wayback-fetcher/internal/downloader"
	"wayback-fetcher/internal/filter"
	"wayback-fetcher/internal/index"
	"wayback-fetcher/internal/report"
	"wayback-fetcher/internal/retry"
	"wayback-fetcher/internal/selector"
)

const EnvPrefix = "WAYBACK"

// ErrInvalidDomain is returned for a target that is not a plain domain name.
var ErrInvalidDomain = errors.New("invalid domain")

var domainPattern = regexp.MustCompile(`^(?:[A-Za-z0-9](?:[A-Za-z0-9\-]{0,61}[A-Za-z0-9])?\.)+[A-Za-z]{2,}$`)

// Config holds application level configuration aggregated from flags, env and config files.
type Config struct {
	Domain string

	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Log struct {
		Level   string
		Verbose bool
	}
	Metrics struct {
		Addr string
	}
	Index struct {
		Endpoint   string
		HTTP       bool
		Limit      int
		PageSize   int `mapstructure:"page_size"`
		Rate       float64
		Timeout    time.Duration
		Retries    int
		RetryDelay time.Duration `mapstructure:"retry_delay"`
	}
	Filter struct {
		StatusCodes []int `mapstructure:"status_codes"`
		Extensions  []string
		MIMETypes   []string `mapstructure:"mime_types"`
		Regex       string
	}
	Download struct {
		All            bool
		First          bool
		Last           bool
		FirstLast      bool `mapstructure:"first_last"`
		Current        bool
		Structured     bool
		Threads        int
		Timeout        time.Duration
		TimeoutArchive time.Duration `mapstructure:"timeout_archive"`
		TimeoutOrigin  time.Duration `mapstructure:"timeout_origin"`
		Retries        int
		RetryDelay     time.Duration `mapstructure:"retry_delay"`
		Deduplicate    bool
		UserAgent      string `mapstructure:"user_agent"`
		ArchiveRoot    string `mapstructure:"archive_root"`
		Modifier       string
	}
	Output struct {
		Dir    string
		Format string
	}
	Storage struct {
		Bucket      string
		KeyPrefix   string `mapstructure:"key_prefix"`
		Region      string
		Endpoint    string
		Replace     bool
		Concurrency int
	}
	AWS struct {
		Profile string
	}
}

// New prepares a viper instance with defaults, the WAYBACK_ environment and
// an optional config.yaml. Values from .env are loaded into the environment
// without overriding variables that are already set.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("database.path", "data/fetcher.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.verbose", false)
	v.SetDefault("metrics.addr", "")

	v.SetDefault("index.endpoint", index.DefaultEndpoint)
	v.SetDefault("index.http", false)
	v.SetDefault("index.limit", 150000)
	v.SetDefault("index.page_size", 10000)
	v.SetDefault("index.rate", 1.0)
	v.SetDefault("index.timeout", "120s")
	// index.retries and index.retry_delay fall back to the download policy in Load
	_ = v.BindEnv("index.retries")
	_ = v.BindEnv("index.retry_delay")

	v.SetDefault("filter.status_codes", []int{200})
	v.SetDefault("filter.extensions", []string{})
	v.SetDefault("filter.mime_types", []string{})
	v.SetDefault("filter.regex", "")

	v.SetDefault("download.all", false)
	v.SetDefault("download.first", false)
	v.SetDefault("download.last", false)
	v.SetDefault("download.first_last", false)
	v.SetDefault("download.current", false)
	v.SetDefault("download.structured", false)
	v.SetDefault("download.threads", 1)
	v.SetDefault("download.timeout", "0s")
	v.SetDefault("download.timeout_archive", "120s")
	v.SetDefault("download.timeout_origin", "60s")
	v.SetDefault("download.retries", 2)
	v.SetDefault("download.retry_delay", "5s")
	v.SetDefault("download.deduplicate", false)
	v.SetDefault("download.user_agent", "wayback-fetcher/1.0")
	v.SetDefault("download.archive_root", selector.DefaultArchiveRoot)
	v.SetDefault("download.modifier", selector.DefaultModifier)

	v.SetDefault("output.dir", "")
	v.SetDefault("output.format", "both")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "wayback")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.replace", false)
	v.SetDefault("storage.concurrency", 4)
	v.SetDefault("aws.profile", "")
}

// Load unmarshals v into a Config. Durations accept Go syntax ("90s") or a
// bare number of seconds. Index pages retry with the download policy unless
// index.retries or index.retry_delay is set explicitly.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !v.IsSet("index.retries") {
		cfg.Index.Retries = cfg.Download.Retries
	}
	if !v.IsSet("index.retry_delay") {
		cfg.Index.RetryDelay = cfg.Download.RetryDelay
	}

	cfg.Filter.Extensions = splitList(cfg.Filter.Extensions)
	cfg.Filter.MIMETypes = splitList(cfg.Filter.MIMETypes)
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func secondsHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return time.Duration(n) * time.Second, nil
		}
	}
	return data, nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ValidateDomain lowercases a domain and rejects anything that is not a
// plain host name.
func ValidateDomain(d string) (string, error) {
	d = strings.TrimSpace(d)
	if !domainPattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, d)
	}
	return strings.ToLower(d), nil
}

// Validate checks the settings a run depends on.
func (c *Config) Validate() error {
	d, err := ValidateDomain(c.Domain)
	if err != nil {
		return err
	}
	c.Domain = d

	if c.Download.Threads < downloader.MinThreads || c.Download.Threads > downloader.MaxThreads {
		return fmt.Errorf("threads must be between %d and %d, got %d", downloader.MinThreads, downloader.MaxThreads, c.Download.Threads)
	}
	if c.Download.Retries < 0 || c.Index.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"download timeout":         c.Download.Timeout,
		"archive download timeout": c.Download.TimeoutArchive,
		"origin download timeout":  c.Download.TimeoutOrigin,
		"download retry delay":     c.Download.RetryDelay,
		"index timeout":            c.Index.Timeout,
		"index retry delay":        c.Index.RetryDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if len(c.Filter.StatusCodes) == 0 {
		return errors.New("at least one status code is required")
	}
	if _, err := report.ParseFormats(c.Output.Format); err != nil {
		return err
	}
	if c.Filter.Regex != "" {
		if _, err := regexp.Compile(c.Filter.Regex); err != nil {
			return fmt.Errorf("compile regex: %w", err)
		}
	}
	return nil
}

// FilterCriteria builds the record filter settings.
func (c Config) FilterCriteria() (filter.Criteria, error) {
	crit := filter.Criteria{
		StatusCodes: c.Filter.StatusCodes,
		Extensions:  c.Filter.Extensions,
		MIMETypes:   c.Filter.MIMETypes,
	}
	if c.Filter.Regex != "" {
		re, err := regexp.Compile(c.Filter.Regex)
		if err != nil {
			return filter.Criteria{}, fmt.Errorf("compile regex: %w", err)
		}
		crit.Match = re.MatchString
	}
	return crit, nil
}

func (c Config) SelectorOptions() selector.Options {
	return selector.Options{
		First:     c.Download.First,
		Last:      c.Download.Last,
		Current:   c.Download.Current,
		FirstLast: c.Download.FirstLast,
		All:       c.Download.All,
	}
}

// Endpoints returns the archive retrieval root, switched to plain HTTP when
// the index is read over HTTP.
func (c Config) Endpoints() selector.Endpoints {
	root := c.Download.ArchiveRoot
	if c.Index.HTTP {
		root = strings.Replace(root, "https://", "http://", 1)
	}
	return selector.Endpoints{ArchiveRoot: root, Modifier: c.Download.Modifier}
}

func (c Config) TimeoutPolicy() downloader.TimeoutPolicy {
	return downloader.TimeoutPolicy{
		Archive:  c.Download.TimeoutArchive,
		Origin:   c.Download.TimeoutOrigin,
		Override: c.Download.Timeout,
	}
}

func (c Config) DownloadRetry() retry.Policy {
	return retry.Policy{Retries: c.Download.Retries, Delay: c.Download.RetryDelay}
}

func (c Config) IndexRetry() retry.Policy {
	return retry.Policy{Retries: c.Index.Retries, Delay: c.Index.RetryDelay}
}

func (c Config) OutputFormats() ([]report.Format, error) {
	return report.ParseFormats(c.Output.Format)
}

// OutputDir is the configured output folder, or output/<domain>_<time>.
func (c Config) OutputDir(now time.Time) string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return filepath.Join("output", c.Domain+"_"+now.Format("02-01-2006_15-04-05"))
}

// DownloadsSelected reports whether any download variant is enabled.
func (c Config) DownloadsSelected() bool {
	return c.SelectorOptions().Any()
}

// NeedsConfirmation is true when downloads would cover the whole unfiltered domain.
func (c Config) NeedsConfirmation() bool {
	crit, err := c.FilterCriteria()
	if err != nil {
		return false
	}
	return c.DownloadsSelected() && !crit.TargetsConfigured()
}

// IndexConfig builds the CDX fetcher settings. Client, Observer and Logger are
// left for the caller.
func (c Config) IndexConfig() index.Config {
	return index.Config{
		Endpoint:      c.Index.Endpoint,
		UseHTTP:       c.Index.HTTP,
		PageSize:      c.Index.PageSize,
		Limit:         c.Index.Limit,
		Timeout:       c.Index.Timeout,
		RatePerSecond: c.Index.Rate,
		Retry:         c.IndexRetry(),
		UserAgent:     c.Download.UserAgent,
	}
}
