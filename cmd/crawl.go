// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chromedpbrowser "github.com/JakeFAU/harvester/internal/browser/chromedp"
	rodbrowser "github.com/JakeFAU/harvester/internal/browser/rod"
	"github.com/JakeFAU/harvester/internal/config"
	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/extractor"
	collyfetcher "github.com/JakeFAU/harvester/internal/fetcher/colly"
	"github.com/JakeFAU/harvester/internal/metrics"
	"github.com/JakeFAU/harvester/internal/navigator"
	"github.com/JakeFAU/harvester/internal/normalizer"
	"github.com/JakeFAU/harvester/internal/pipeline"
	"github.com/JakeFAU/harvester/internal/report"
	"github.com/JakeFAU/harvester/internal/report/sinks"
	"github.com/JakeFAU/harvester/internal/saver"
	gcsstore "github.com/JakeFAU/harvester/internal/storage/gcs"
	localstore "github.com/JakeFAU/harvester/internal/storage/local"
	memorystore "github.com/JakeFAU/harvester/internal/storage/memory"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one harvest",
		Long: `Visits every configured page, extracts and normalizes records, and
saves the resulting artifacts. The first SIGINT/SIGTERM finishes the current
page and stops; a second one cancels immediately. The command fails only when
the run is aborted by a lost browser session.`,
		RunE: runCrawlCommand,
	}
}

// closers runs cleanup functions in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var cleanup closers
	defer cleanup.run()

	p, err := buildPipeline(ctx, cfg, logger, appInstance.GetMetrics(), &cleanup)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go relaySignals(ctx, sigs, p.Stop, cancel, logger)

	summary, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s aborted: %w", p.RunID(), err)
	}
	totals := summary.Totals()
	logger.Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.String("state", string(summary.State)),
		zap.Int("saved", totals.Saved),
		zap.Int("failed", totals.Failed),
	)
	return nil
}

// relaySignals turns the first signal into a graceful stop and the second
// into cancellation.
func relaySignals(ctx context.Context, sigs <-chan os.Signal, stop func(), cancel context.CancelFunc, logger *zap.Logger) {
	received := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			received++
			if received == 1 {
				logger.Warn("stopping after the current page", zap.String("signal", sig.String()))
				stop()
				continue
			}
			logger.Warn("canceling run", zap.String("signal", sig.String()))
			cancel()
			return
		}
	}
}

func buildPipeline(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	cleanup *closers,
) (*pipeline.Pipeline, error) {
	policy := cfg.ToPolicy()
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID.String()))

	store, err := buildBlobStore(ctx, cfg.Storage, cleanup)
	if err != nil {
		return nil, err
	}
	fetcher, err := collyfetcher.New(collyfetcher.Config{Policy: policy.Fetch, Logger: logger, Metrics: m})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	ext, err := extractor.New(policy.Extractor, logger)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	norm, err := normalizer.New(policy.Normalization)
	if err != nil {
		return nil, fmt.Errorf("init normalizer: %w", err)
	}
	sv, err := saver.New(saver.Config{
		Policy:      policy.Storage,
		Store:       store,
		Fetcher:     fetcher,
		Concurrency: policy.Concurrency,
		RunID:       runID.String(),
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, fmt.Errorf("init saver: %w", err)
	}
	sink, err := buildReportSinks(ctx, cfg.Report, store, m, logger, cleanup)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Policy:     policy,
		Browsers:   browserFactory(cfg.Browser, policy, logger),
		Navigator:  navigator.New(policy, logger),
		Extractor:  ext,
		Normalizer: norm,
		Saver:      sv,
		Sink:       sink,
		RunID:      runID.String(),
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return p, nil
}

// browserFactory is swapped in tests.
var browserFactory = newBrowserFactory

func newBrowserFactory(cfg config.BrowserConfig, policy crawler.Policy, logger *zap.Logger) crawler.BrowserFactory {
	headers := config.ToHeader(cfg.Headers)
	if cfg.Driver == "rod" {
		return func(ctx context.Context) (crawler.Browser, error) {
			b, err := rodbrowser.New(ctx, rodbrowser.Config{
				Headless:          cfg.Headless,
				NoSandbox:         cfg.NoSandbox,
				Bin:               cfg.ExecPath,
				Stealth:           cfg.Stealth,
				UserAgent:         cfg.UserAgent,
				Headers:           headers,
				NavigationTimeout: policy.Navigation.NavigationTimeout,
				CommandTimeout:    cfg.CommandTimeout,
			}, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	return func(ctx context.Context) (crawler.Browser, error) {
		b, err := chromedpbrowser.New(ctx, chromedpbrowser.Config{
			Headless:          cfg.Headless,
			ExecPath:          cfg.ExecPath,
			UserAgent:         cfg.UserAgent,
			Headers:           headers,
			WindowWidth:       cfg.WindowWidth,
			WindowHeight:      cfg.WindowHeight,
			NavigationTimeout: policy.Navigation.NavigationTimeout,
			CommandTimeout:    cfg.CommandTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.StorageConfig, cleanup *closers) (crawler.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return memorystore.NewBlobStore(), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		cleanup.add(func() { _ = client.Close() })
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case "local":
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Root})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func buildReportSinks(
	ctx context.Context,
	cfg config.ReportConfig,
	store crawler.BlobStore,
	m *metrics.Metrics,
	logger *zap.Logger,
	cleanup *closers,
) (*report.Fanout, error) {
	var named []report.NamedSink
	if cfg.Log.Enabled {
		named = append(named, report.NamedSink{Name: "log", Sink: sinks.NewLogSink(logger)})
	}
	if cfg.Blob.Enabled {
		blob, err := sinks.NewBlobSink(store, cfg.Blob.Template)
		if err != nil {
			return nil, fmt.Errorf("init blob report: %w", err)
		}
		named = append(named, report.NamedSink{Name: "blob", Sink: blob})
	}
	if cfg.Textfile.Enabled {
		textfile, err := sinks.NewTextfileSink(m, cfg.Textfile.Path)
		if err != nil {
			return nil, fmt.Errorf("init textfile report: %w", err)
		}
		named = append(named, report.NamedSink{Name: "textfile", Sink: textfile})
	}
	if cfg.Ledger.Enabled {
		ledger, err := sinks.NewLedgerSink(ctx, sinks.LedgerConfig{
			DSN:             cfg.Ledger.DSN,
			RunsTable:       cfg.Ledger.RunsTable,
			ArtifactsTable:  cfg.Ledger.ArtifactsTable,
			MaxConns:        cfg.Ledger.MaxConns,
			MaxConnLifetime: cfg.Ledger.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init ledger report: %w", err)
		}
		cleanup.add(ledger.Close)
		named = append(named, report.NamedSink{Name: "ledger", Sink: ledger})
	}
	if cfg.Notice.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.Notice.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notice.Topic)
		cleanup.add(func() {
			topic.Stop()
			_ = client.Close()
		})
		notice, err := sinks.NewNoticeSink(topic)
		if err != nil {
			return nil, fmt.Errorf("init notice report: %w", err)
		}
		named = append(named, report.NamedSink{Name: "notice", Sink: notice})
	}
	return report.NewFanout(logger, named...), nil
}
