// Package pipeline drives the crawl loop: one browser session walks the
// configured pages through navigation, extraction, normalization and saving,
// and the outcomes are aggregated into a RunSummary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/metrics"
)

// sinkTimeout bounds summary publication, which runs even after cancellation.
const sinkTimeout = 30 * time.Second

// PageNavigator turns a page number into a page handle.
type PageNavigator interface {
	Navigate(ctx context.Context, b crawler.Browser, page int) (crawler.PageHandle, error)
}

// PageNormalizer converts the records of one page into artifacts.
type PageNormalizer interface {
	NormalizePage(page int, records []crawler.RawRecord, sectionTemplate string) []crawler.Artifact
}

// ArtifactSaver persists the artifacts of one page.
type ArtifactSaver interface {
	Save(ctx context.Context, page crawler.PageHandle, artifacts []crawler.Artifact, session crawler.Session) []crawler.SavedArtifact
}

// Config wires a Pipeline. Sink is optional.
type Config struct {
	Policy     crawler.Policy
	Browsers   crawler.BrowserFactory
	Navigator  PageNavigator
	Extractor  crawler.Extractor
	Normalizer PageNormalizer
	Saver      ArtifactSaver
	Sink       crawler.SummarySink
	RunID      string
	Now        func() time.Time
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Pipeline runs a single crawl. It is not reusable.
type Pipeline struct {
	cfg    Config
	runID  string
	logger *zap.Logger

	mu      sync.Mutex
	state   crawler.State
	started bool

	stop     chan struct{}
	stopOnce sync.Once
}

// New validates cfg and returns a pipeline in the pending state.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Browsers == nil:
		return nil, errors.New("pipeline: browser factory is required")
	case cfg.Navigator == nil:
		return nil, errors.New("pipeline: navigator is required")
	case cfg.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case cfg.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case cfg.Saver == nil:
		return nil, errors.New("pipeline: saver is required")
	case cfg.Policy.Navigation.MaxPages <= 0:
		return nil, errors.New("pipeline: max pages must be positive")
	}
	if cfg.RunID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("pipeline: generate run id: %w", err)
		}
		cfg.RunID = id.String()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		runID:  cfg.RunID,
		logger: cfg.Logger.With(zap.String("run_id", cfg.RunID)),
		state:  crawler.StatePending,
		stop:   make(chan struct{}),
	}, nil
}

// RunID returns the identifier stamped on the summary.
func (p *Pipeline) RunID() string { return p.runID }

// State returns the current state.
func (p *Pipeline) State() crawler.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop requests a cooperative stop. The current page finishes and the run
// ends in the canceled state. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pipeline) setState(to crawler.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !canTransition(p.state, to) {
		p.logger.Error("illegal state transition", zap.String("from", string(p.state)), zap.String("to", string(to)))
		return
	}
	p.state = to
}

func (p *Pipeline) stopRequested(ctx context.Context) bool {
	select {
	case <-p.stop:
		return true
	default:
		return ctx.Err() != nil
	}
}

// Run executes the crawl. A summary is always returned; the error is non-nil
// only when the run aborts on a fatal browser failure.
func (p *Pipeline) Run(ctx context.Context) (*crawler.RunSummary, error) {
	summary := crawler.NewRunSummary(p.runID, p.cfg.Now())
	p.mu.Lock()
	started := p.started
	p.started = true
	p.mu.Unlock()
	if started {
		summary.State = crawler.StateAborted
		summary.Error = "pipeline already ran"
		return summary, errors.New("pipeline: already ran")
	}
	p.logger.Info("run starting",
		zap.String("base_url", p.cfg.Policy.Navigation.BaseURL),
		zap.Int("start_page", p.cfg.Policy.Navigation.StartPage),
		zap.Int("max_pages", p.cfg.Policy.Navigation.MaxPages),
	)

	err := p.run(ctx, summary)
	if err != nil {
		p.setState(crawler.StateAborted)
		summary.Error = err.Error()
	}

	summary.State = p.State()
	summary.FinishedAt = p.cfg.Now()
	elapsed := summary.FinishedAt.Sub(summary.StartedAt)
	p.cfg.Metrics.ObserveRun(string(summary.State), elapsed)

	totals := summary.Totals()
	fields := []zap.Field{
		zap.String("state", string(summary.State)),
		zap.Int("pages", len(summary.Pages())),
		zap.Int("attempted", totals.Attempted),
		zap.Int("saved", totals.Saved),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", totals.Skipped),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		p.logger.Error("run aborted", append(fields, zap.Error(err))...)
	} else {
		p.logger.Info("run finished", fields...)
	}

	p.publish(ctx, summary)
	return summary, err
}

func (p *Pipeline) publish(ctx context.Context, summary *crawler.RunSummary) {
	if p.cfg.Sink == nil {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := p.cfg.Sink.Publish(sinkCtx, summary); err != nil {
		p.logger.Warn("summary sink failed", zap.Error(err))
	}
}

func (p *Pipeline) run(ctx context.Context, summary *crawler.RunSummary) error {
	if p.stopRequested(ctx) {
		p.setState(crawler.StateCanceled)
		return nil
	}
	browser, err := p.cfg.Browsers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.setState(crawler.StateCanceled)
			return nil
		}
		if !crawler.IsFatal(err) {
			err = &crawler.SessionError{Op: "open", Err: err}
		}
		return err
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			p.logger.Warn("close browser", zap.Error(cerr))
		}
	}()

	nav := p.cfg.Policy.Navigation
	first, last := nav.StartPage, nav.StartPage+nav.MaxPages-1
	threshold := p.cfg.Policy.StopAfterEmptyPages
	empty := 0

	for page := first; page <= last; page++ {
		if p.stopRequested(ctx) {
			p.logger.Info("stop requested", zap.Int("next_page", page))
			p.setState(crawler.StateCanceled)
			return nil
		}
		outcome, err := p.processPage(ctx, browser, page, summary)
		if err != nil {
			if crawler.IsFatal(err) {
				return err
			}
			p.logger.Info("run interrupted", zap.Int("page", page), zap.Error(err))
			p.setState(crawler.StateCanceled)
			return nil
		}
		summary.RecordPage(outcome)
		p.cfg.Metrics.ObservePage(string(outcome.Status))

		switch outcome.Status {
		case crawler.PageEmpty:
			empty++
		case crawler.PageProcessed:
			empty = 0
		}
		if threshold > 0 && empty >= threshold {
			p.logger.Info("no further content",
				zap.Int("page", page),
				zap.Int("consecutive_empty", empty),
			)
			break
		}
	}
	p.setState(crawler.StateDone)
	return nil
}

// processPage runs one page through the stages. The returned error is either
// session-fatal or the context's error.
func (p *Pipeline) processPage(ctx context.Context, b crawler.Browser, page int, summary *crawler.RunSummary) (crawler.PageOutcome, error) {
	logger := p.logger.With(zap.Int("page", page))
	p.setState(crawler.StateNavigating)

	handle, err := p.cfg.Navigator.Navigate(ctx, b, page)
	if err != nil {
		return crawler.PageOutcome{}, err
	}
	outcome := crawler.PageOutcome{Index: page, URL: handle.URL}
	if !handle.Ready {
		logger.Warn("page skipped", zap.String("url", handle.URL), zap.String("reason", handle.Reason))
		outcome.Status = crawler.PageSkipped
		outcome.Reason = handle.Reason
		return outcome, nil
	}

	p.setState(crawler.StateExtracting)
	records, err := p.cfg.Extractor.Extract(ctx, handle)
	if err != nil {
		if crawler.IsFatal(err) {
			return outcome, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, ctxErr
		}
		logger.Warn("extraction failed", zap.String("url", handle.URL), zap.Error(err))
		outcome.Reason = err.Error()
		records = nil
	}
	outcome.Records = len(records)

	p.setState(crawler.StateNormalizing)
	artifacts := p.cfg.Normalizer.NormalizePage(page, records, p.cfg.Policy.SectionTemplate)
	outcome.Artifacts = len(artifacts)
	if len(artifacts) == 0 {
		logger.Info("page produced no artifacts", zap.Int("records", len(records)))
		outcome.Status = crawler.PageEmpty
		return outcome, nil
	}

	p.setState(crawler.StateSaving)
	session, err := p.session(ctx, b, handle)
	if err != nil {
		return outcome, err
	}
	results := p.cfg.Saver.Save(ctx, handle, artifacts, session)
	summary.Record(results...)
	outcome.Status = crawler.PageProcessed
	logger.Info("page processed",
		zap.Int("records", len(records)),
		zap.Int("artifacts", len(artifacts)),
		zap.Int("scrolls", handle.Scrolls),
	)
	return outcome, nil
}

// session transplants the browser identity for artifact downloads. Soft
// failures fall back to an anonymous session.
func (p *Pipeline) session(ctx context.Context, b crawler.Browser, handle crawler.PageHandle) (crawler.Session, error) {
	s := crawler.Session{Referer: handle.URL}
	cookies, err := b.Cookies(ctx)
	if err != nil {
		if crawler.IsFatal(err) {
			return s, err
		}
		p.logger.Debug("read browser cookies", zap.Error(err))
	}
	s.Cookies = cookies
	ua, err := b.UserAgent(ctx)
	if err != nil {
		if crawler.IsFatal(err) {
			return s, err
		}
		p.logger.Debug("read browser user agent", zap.Error(err))
	}
	s.UserAgent = ua
	return s, nil
}
