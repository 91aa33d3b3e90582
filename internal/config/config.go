// Package config loads and validates harvest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
	"github.com/gobwas/glob"
	"github.com/spf13/viper"

	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/extractor"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Wait       WaitConfig       `mapstructure:"wait"`
	Scroll     ScrollConfig     `mapstructure:"scroll"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Normalize  NormalizeConfig  `mapstructure:"normalize"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Report     ReportConfig     `mapstructure:"report"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RunConfig holds pipeline-wide settings.
type RunConfig struct {
	Concurrency         int    `mapstructure:"concurrency"`
	SectionTemplate     string `mapstructure:"section_template"`
	StopAfterEmptyPages int    `mapstructure:"stop_after_empty_pages"`
}

// NavigationConfig describes which pages are visited.
type NavigationConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	URLTemplate string            `mapstructure:"url_template"`
	StartPage   int               `mapstructure:"start_page"`
	PageSize    int               `mapstructure:"page_size"`
	MaxPages    int               `mapstructure:"max_pages"`
	QueryParams map[string]string `mapstructure:"query_params"`
	Timeout     time.Duration     `mapstructure:"timeout"`
}

// WaitConfig describes the readiness condition.
type WaitConfig struct {
	SelectorKind string        `mapstructure:"selector_kind"`
	Selector     string        `mapstructure:"selector"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Visible      bool          `mapstructure:"visible"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
}

// ScrollConfig drives lazy-load scrolling.
type ScrollConfig struct {
	Strategy       string        `mapstructure:"strategy"`
	Step           int           `mapstructure:"step"`
	PauseMin       time.Duration `mapstructure:"pause_min"`
	PauseMax       time.Duration `mapstructure:"pause_max"`
	MaxIterations  int           `mapstructure:"max_iterations"`
	StopWhenStable bool          `mapstructure:"stop_when_stable"`
	StableChecks   int           `mapstructure:"stable_checks"`
}

// FieldConfig maps an output field to a selector.
type FieldConfig struct {
	Name     string `mapstructure:"name"`
	Selector string `mapstructure:"selector"`
}

// ExtractorConfig selects and configures the extraction strategy.
type ExtractorConfig struct {
	Strategy       string        `mapstructure:"strategy"`
	Script         string        `mapstructure:"script"`
	Async          bool          `mapstructure:"async"`
	RecordSelector string        `mapstructure:"record_selector"`
	Fields         []FieldConfig `mapstructure:"fields"`
}

// KindHintConfig forces a kind for fields matching a glob.
type KindHintConfig struct {
	Pattern string `mapstructure:"pattern"`
	Kind    string `mapstructure:"kind"`
}

// NormalizeConfig configures type inference.
type NormalizeConfig struct {
	KindHints       []KindHintConfig `mapstructure:"kind_hints"`
	DefaultSection  string           `mapstructure:"default_section"`
	UnknownURLKind  string           `mapstructure:"unknown_url_kind"`
	ImageExtensions []string         `mapstructure:"image_extensions"`
	FileExtensions  []string         `mapstructure:"file_extensions"`
}

// TargetConfig configures persistence for one artifact kind. Empty values
// fall back to the saver defaults.
type TargetConfig struct {
	Dir              string `mapstructure:"dir"`
	FilenameTemplate string `mapstructure:"filename_template"`
	DefaultExtension string `mapstructure:"default_extension"`
	Collision        string `mapstructure:"collision"`
	Append           bool   `mapstructure:"append"`
	Format           string `mapstructure:"format"`
}

// StorageConfig selects the blob backend and per-kind targets.
type StorageConfig struct {
	Backend string                  `mapstructure:"backend"`
	Root    string                  `mapstructure:"root"`
	Bucket  string                  `mapstructure:"bucket"`
	Prefix  string                  `mapstructure:"prefix"`
	Targets map[string]TargetConfig `mapstructure:"targets"`
}

// FetchConfig configures artifact downloads.
type FetchConfig struct {
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
	BackoffBase  time.Duration     `mapstructure:"backoff_base"`
	BackoffMax   time.Duration     `mapstructure:"backoff_max"`
	HostQPS      float64           `mapstructure:"host_qps"`
	CacheSize    int               `mapstructure:"cache_size"`
	MaxBodyBytes int               `mapstructure:"max_body_bytes"`
	UserAgent    string            `mapstructure:"user_agent"`
	Headers      map[string]string `mapstructure:"headers"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver         string            `mapstructure:"driver"`
	Headless       bool              `mapstructure:"headless"`
	NoSandbox      bool              `mapstructure:"no_sandbox"`
	ExecPath       string            `mapstructure:"exec_path"`
	Stealth        bool              `mapstructure:"stealth"`
	UserAgent      string            `mapstructure:"user_agent"`
	Headers        map[string]string `mapstructure:"headers"`
	WindowWidth    int               `mapstructure:"window_width"`
	WindowHeight   int               `mapstructure:"window_height"`
	CommandTimeout time.Duration     `mapstructure:"command_timeout"`
}

// ReportConfig enables the post-run summary sinks.
type ReportConfig struct {
	Blob     BlobReportConfig     `mapstructure:"blob"`
	Log      LogReportConfig      `mapstructure:"log"`
	Ledger   LedgerReportConfig   `mapstructure:"ledger"`
	Notice   NoticeReportConfig   `mapstructure:"notice"`
	Textfile TextfileReportConfig `mapstructure:"textfile"`
}

// BlobReportConfig writes the summary JSON through the blob store.
type BlobReportConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Template string `mapstructure:"template"`
}

// LogReportConfig logs the summary.
type LogReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LedgerReportConfig records runs in Postgres.
type LedgerReportConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	RunsTable       string        `mapstructure:"runs_table"`
	ArtifactsTable  string        `mapstructure:"artifacts_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NoticeReportConfig publishes a completion notice to Pub/Sub.
type NoticeReportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TextfileReportConfig exports run metrics for node_exporter.
type TextfileReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.section_template", "page-{page}")
	v.SetDefault("run.stop_after_empty_pages", 0)
	// Keys without a meaningful default are registered so AutomaticEnv can
	// populate them during Unmarshal.
	for _, key := range []string{
		"navigation.base_url",
		"navigation.url_template",
		"wait.selector",
		"extractor.strategy",
		"extractor.script",
		"extractor.record_selector",
		"storage.bucket",
		"storage.prefix",
		"fetch.user_agent",
		"browser.exec_path",
		"browser.user_agent",
		"report.ledger.dsn",
		"report.notice.project_id",
		"report.notice.topic",
		"report.textfile.path",
		"logging.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("navigation.start_page", 1)
	v.SetDefault("navigation.page_size", 0)
	v.SetDefault("navigation.max_pages", 1)
	v.SetDefault("navigation.timeout", "45s")
	v.SetDefault("wait.selector_kind", string(crawler.SelectorCSS))
	v.SetDefault("wait.timeout", "15s")
	v.SetDefault("wait.visible", false)
	v.SetDefault("wait.settle_delay", "0s")
	v.SetDefault("scroll.strategy", string(crawler.ScrollNone))
	v.SetDefault("scroll.step", 800)
	v.SetDefault("scroll.pause_min", "250ms")
	v.SetDefault("scroll.pause_max", "750ms")
	v.SetDefault("scroll.max_iterations", 20)
	v.SetDefault("scroll.stop_when_stable", true)
	v.SetDefault("scroll.stable_checks", 1)
	v.SetDefault("normalize.default_section", "default")
	v.SetDefault("normalize.unknown_url_kind", string(crawler.KindFile))
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root", "./output")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_base", "500ms")
	v.SetDefault("fetch.backoff_max", "10s")
	v.SetDefault("fetch.host_qps", 0)
	v.SetDefault("fetch.cache_size", 256)
	v.SetDefault("fetch.max_body_bytes", 32<<20)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.command_timeout", "30s")
	v.SetDefault("report.blob.enabled", true)
	v.SetDefault("report.blob.template", "reports/{run}.json")
	v.SetDefault("report.log.enabled", true)
	v.SetDefault("report.ledger.runs_table", "harvest_runs")
	v.SetDefault("report.ledger.artifacts_table", "harvest_artifacts")
	v.SetDefault("report.ledger.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate enforces required values and reasonable limits. Selectors, globs
// and templates are compiled here so a bad config fails before the browser
// starts.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	base, err := url.Parse(c.Navigation.BaseURL)
	switch {
	case c.Navigation.BaseURL == "":
		fail("navigation.base_url is required")
	case err != nil || !crawler.IsAbsoluteHTTP(base.String()):
		fail("navigation.base_url must be an absolute http(s) URL, got %q", c.Navigation.BaseURL)
	}
	if c.Navigation.MaxPages <= 0 {
		fail("navigation.max_pages must be > 0")
	}
	if c.Navigation.PageSize < 0 {
		fail("navigation.page_size must be >= 0")
	}
	if c.Run.Concurrency <= 0 {
		fail("run.concurrency must be > 0")
	}
	if c.Run.StopAfterEmptyPages < 0 {
		fail("run.stop_after_empty_pages must be >= 0")
	}

	if err := c.validateWait(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateScroll(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateExtractor(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateNormalize(); err != nil {
		errs = append(errs, err)
	}
	if err := c.validateStorage(); err != nil {
		errs = append(errs, err)
	}

	if c.Fetch.Timeout <= 0 {
		fail("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxRetries < 1 {
		fail("fetch.max_retries must be >= 1")
	}
	if c.Fetch.BackoffMax > 0 && c.Fetch.BackoffMax < c.Fetch.BackoffBase {
		fail("fetch.backoff_max must be >= fetch.backoff_base")
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		fail("browser.driver must be chromedp or rod, got %q", c.Browser.Driver)
	}

	if c.Report.Ledger.Enabled && c.Report.Ledger.DSN == "" {
		fail("report.ledger.dsn must be set when the ledger is enabled")
	}
	if c.Report.Notice.Enabled && (c.Report.Notice.ProjectID == "" || c.Report.Notice.Topic == "") {
		fail("report.notice.project_id and report.notice.topic must be set when notices are enabled")
	}
	if c.Report.Textfile.Enabled && c.Report.Textfile.Path == "" {
		fail("report.textfile.path must be set when the textfile export is enabled")
	}
	return errors.Join(errs...)
}

func (c Config) validateWait() error {
	if c.Wait.Timeout < 0 {
		return errors.New("wait.timeout must be >= 0")
	}
	if c.Wait.Selector == "" {
		return nil
	}
	switch crawler.SelectorKind(c.Wait.SelectorKind) {
	case crawler.SelectorCSS:
		if _, err := cascadia.Compile(c.Wait.Selector); err != nil {
			return fmt.Errorf("wait.selector: invalid css %q: %w", c.Wait.Selector, err)
		}
	case crawler.SelectorXPath:
		if _, err := xpath.Compile(c.Wait.Selector); err != nil {
			return fmt.Errorf("wait.selector: invalid xpath %q: %w", c.Wait.Selector, err)
		}
	default:
		return fmt.Errorf("wait.selector_kind must be css or xpath, got %q", c.Wait.SelectorKind)
	}
	return nil
}

func (c Config) validateScroll() error {
	switch crawler.ScrollStrategy(c.Scroll.Strategy) {
	case crawler.ScrollNone:
		return nil
	case crawler.ScrollStep:
		if c.Scroll.Step <= 0 {
			return errors.New("scroll.step must be > 0 for the step strategy")
		}
	case crawler.ScrollBottom:
	default:
		return fmt.Errorf("scroll.strategy must be none, step or bottom, got %q", c.Scroll.Strategy)
	}
	if c.Scroll.MaxIterations <= 0 {
		return errors.New("scroll.max_iterations must be > 0")
	}
	if c.Scroll.PauseMax < c.Scroll.PauseMin {
		return errors.New("scroll.pause_max must be >= scroll.pause_min")
	}
	return nil
}

func (c Config) validateExtractor() error {
	switch crawler.ExtractorStrategy(c.Extractor.Strategy) {
	case crawler.ExtractScript:
		if strings.TrimSpace(c.Extractor.Script) == "" {
			return errors.New("extractor.script is required for the script strategy")
		}
		return nil
	case crawler.ExtractDOM:
	case "":
		if strings.TrimSpace(c.Extractor.Script) != "" {
			return nil
		}
	default:
		return fmt.Errorf("extractor.strategy must be script or dom, got %q", c.Extractor.Strategy)
	}
	if len(c.Extractor.Fields) == 0 {
		return errors.New("extractor.fields must not be empty for the dom strategy")
	}
	if c.Extractor.RecordSelector != "" {
		if _, err := extractor.ParseSelector(c.Extractor.RecordSelector); err != nil {
			return fmt.Errorf("extractor.record_selector: %w", err)
		}
	}
	for i, f := range c.Extractor.Fields {
		if f.Name == "" {
			return fmt.Errorf("extractor.fields[%d]: name is required", i)
		}
		if _, err := extractor.ParseSelector(f.Selector); err != nil {
			return fmt.Errorf("extractor.fields[%d] (%s): %w", i, f.Name, err)
		}
	}
	return nil
}

func (c Config) validateNormalize() error {
	for i, h := range c.Normalize.KindHints {
		if _, err := glob.Compile(strings.ToLower(h.Pattern)); err != nil {
			return fmt.Errorf("normalize.kind_hints[%d]: invalid pattern %q: %w", i, h.Pattern, err)
		}
		if _, err := crawler.ParseKind(h.Kind); err != nil {
			return fmt.Errorf("normalize.kind_hints[%d]: %w", i, err)
		}
	}
	if c.Normalize.UnknownURLKind != "" {
		kind, err := crawler.ParseKind(c.Normalize.UnknownURLKind)
		if err != nil {
			return fmt.Errorf("normalize.unknown_url_kind: %w", err)
		}
		if !kind.Fetchable() {
			return fmt.Errorf("normalize.unknown_url_kind must be image or file, got %q", kind)
		}
	}
	return nil
}

func (c Config) validateStorage() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Root == "" {
			return errors.New("storage.root is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	for name, t := range c.Storage.Targets {
		if _, err := crawler.ParseKind(name); err != nil {
			return fmt.Errorf("storage.targets: %w", err)
		}
		switch crawler.Collision(t.Collision) {
		case "", crawler.CollisionOverwrite, crawler.CollisionUnique, crawler.CollisionSkip:
		default:
			return fmt.Errorf("storage.targets.%s.collision: unknown rule %q", name, t.Collision)
		}
		switch crawler.TextFormat(t.Format) {
		case "", crawler.TextLines, crawler.TextJSON, crawler.TextYAML:
		default:
			return fmt.Errorf("storage.targets.%s.format: unknown format %q", name, t.Format)
		}
	}
	return nil
}

// ToPolicy converts the loaded configuration into the immutable run policy.
func (c Config) ToPolicy() crawler.Policy {
	fields := make([]crawler.FieldSelector, 0, len(c.Extractor.Fields))
	for _, f := range c.Extractor.Fields {
		fields = append(fields, crawler.FieldSelector{Name: f.Name, Selector: f.Selector})
	}
	hints := make([]crawler.KindHint, 0, len(c.Normalize.KindHints))
	for _, h := range c.Normalize.KindHints {
		hints = append(hints, crawler.KindHint{Pattern: h.Pattern, Kind: crawler.Kind(h.Kind)})
	}
	targets := make(map[crawler.Kind]crawler.StorageTargetPolicy, len(c.Storage.Targets))
	for name, t := range c.Storage.Targets {
		targets[crawler.Kind(name)] = crawler.StorageTargetPolicy{
			Dir:              t.Dir,
			FilenameTemplate: t.FilenameTemplate,
			DefaultExtension: t.DefaultExtension,
			Collision:        crawler.Collision(t.Collision),
			Append:           t.Append,
			Format:           crawler.TextFormat(t.Format),
		}
	}

	return crawler.Policy{
		Navigation: crawler.NavigationPolicy{
			BaseURL:           c.Navigation.BaseURL,
			URLTemplate:       c.Navigation.URLTemplate,
			StartPage:         c.Navigation.StartPage,
			PageSize:          c.Navigation.PageSize,
			MaxPages:          c.Navigation.MaxPages,
			QueryParams:       c.Navigation.QueryParams,
			NavigationTimeout: c.Navigation.Timeout,
		},
		Wait: crawler.WaitPolicy{
			SelectorKind: crawler.SelectorKind(c.Wait.SelectorKind),
			Selector:     c.Wait.Selector,
			Timeout:      c.Wait.Timeout,
			Visible:      c.Wait.Visible,
			SettleDelay:  c.Wait.SettleDelay,
		},
		Scroll: crawler.ScrollPolicy{
			Strategy:       crawler.ScrollStrategy(c.Scroll.Strategy),
			Step:           c.Scroll.Step,
			PauseMin:       c.Scroll.PauseMin,
			PauseMax:       c.Scroll.PauseMax,
			MaxIterations:  c.Scroll.MaxIterations,
			StopWhenStable: c.Scroll.StopWhenStable,
			StableChecks:   c.Scroll.StableChecks,
		},
		Extractor: crawler.ExtractorPolicy{
			Strategy:       crawler.ExtractorStrategy(c.Extractor.Strategy),
			Script:         c.Extractor.Script,
			Async:          c.Extractor.Async,
			Fields:         fields,
			RecordSelector: c.Extractor.RecordSelector,
		},
		Normalization: crawler.NormalizationPolicy{
			KindHints:       hints,
			DefaultSection:  c.Normalize.DefaultSection,
			UnknownURLKind:  crawler.Kind(c.Normalize.UnknownURLKind),
			ImageExtensions: c.Normalize.ImageExtensions,
			FileExtensions:  c.Normalize.FileExtensions,
		},
		Storage: crawler.StoragePolicy{
			Backend: c.Storage.Backend,
			Root:    c.Storage.Root,
			Bucket:  c.Storage.Bucket,
			Targets: targets,
		},
		Fetch: crawler.FetchPolicy{
			Timeout:      c.Fetch.Timeout,
			MaxRetries:   c.Fetch.MaxRetries,
			BackoffBase:  c.Fetch.BackoffBase,
			BackoffMax:   c.Fetch.BackoffMax,
			HostQPS:      c.Fetch.HostQPS,
			CacheSize:    c.Fetch.CacheSize,
			MaxBodyBytes: c.Fetch.MaxBodyBytes,
			UserAgent:    c.Fetch.UserAgent,
			Headers:      ToHeader(c.Fetch.Headers),
		},
		Concurrency:         c.Run.Concurrency,
		SectionTemplate:     c.Run.SectionTemplate,
		StopAfterEmptyPages: c.Run.StopAfterEmptyPages,
	}
}

// ToHeader converts a flat header map into canonical http.Header form.
func ToHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
