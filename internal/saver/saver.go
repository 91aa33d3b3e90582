// Package saver persists normalized artifacts. Artifacts are partitioned by
// kind and handed to the ImageSaver, TextSaver or FileSaver; every artifact
// yields exactly one SavedArtifact and a failure never blocks its siblings.
package saver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/metrics"
)

// Default per-kind targets, applied field by field under the configured ones.
var defaultTargets = map[crawler.Kind]crawler.StorageTargetPolicy{
	crawler.KindImage: {
		Dir:              "images",
		FilenameTemplate: "{section}/{name}.{ext}",
		DefaultExtension: "jpg",
		Collision:        crawler.CollisionUnique,
	},
	crawler.KindText: {
		Dir:              "text",
		FilenameTemplate: "{section}.{ext}",
		Collision:        crawler.CollisionOverwrite,
		Format:           crawler.TextLines,
	},
	crawler.KindFile: {
		Dir:              "files",
		FilenameTemplate: "{section}/{name}.{ext}",
		DefaultExtension: "bin",
		Collision:        crawler.CollisionUnique,
	},
}

// Config wires a Saver.
type Config struct {
	Policy      crawler.StoragePolicy
	Store       crawler.BlobStore
	Fetcher     crawler.Fetcher
	Images      crawler.ImageProcessor
	Concurrency int
	RunID       string
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Saver dispatches artifacts to the per-kind savers.
type Saver struct {
	images      *ImageSaver
	text        *TextSaver
	files       *FileSaver
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New validates cfg and builds a Saver.
func New(cfg Config) (*Saver, error) {
	if cfg.Store == nil {
		return nil, errors.New("saver: blob store is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("saver: fetcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	targets := make(map[crawler.Kind]crawler.StorageTargetPolicy, len(crawler.Kinds))
	for _, kind := range crawler.Kinds {
		t, err := resolveTarget(kind, cfg.Policy.Target(kind))
		if err != nil {
			return nil, err
		}
		targets[kind] = t
	}
	names := newNamer(cfg.Store, cfg.RunID)
	return &Saver{
		images: &ImageSaver{
			fetchSaver: fetchSaver{kind: crawler.KindImage, target: targets[crawler.KindImage], store: cfg.Store, fetcher: cfg.Fetcher, names: names},
			processor:  cfg.Images,
		},
		text:        &TextSaver{target: targets[crawler.KindText], store: cfg.Store, names: names},
		files:       &FileSaver{fetchSaver: fetchSaver{kind: crawler.KindFile, target: targets[crawler.KindFile], store: cfg.Store, fetcher: cfg.Fetcher, names: names}},
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

func resolveTarget(kind crawler.Kind, t crawler.StorageTargetPolicy) (crawler.StorageTargetPolicy, error) {
	def := defaultTargets[kind]
	if t.Dir == "" {
		t.Dir = def.Dir
	}
	if t.FilenameTemplate == "" {
		t.FilenameTemplate = def.FilenameTemplate
	}
	if t.DefaultExtension == "" {
		t.DefaultExtension = def.DefaultExtension
	}
	if t.Collision == "" {
		t.Collision = def.Collision
	}
	switch t.Collision {
	case crawler.CollisionOverwrite, crawler.CollisionUnique, crawler.CollisionSkip:
	default:
		return t, fmt.Errorf("saver: %s target: unknown collision rule %q", kind, t.Collision)
	}
	if kind == crawler.KindText {
		if t.Format == "" {
			t.Format = def.Format
		}
		if _, ok := encoders[t.Format]; !ok {
			return t, fmt.Errorf("saver: text target: unknown format %q", t.Format)
		}
	}
	return t, nil
}

// Save persists the artifacts of one page and returns one result per
// artifact, in input order. Image and file artifacts run on a worker pool
// bounded by the configured concurrency; each text section is one task.
func (s *Saver) Save(ctx context.Context, page crawler.PageHandle, artifacts []crawler.Artifact, session crawler.Session) []crawler.SavedArtifact {
	results := make([]crawler.SavedArtifact, len(artifacts))
	if len(artifacts) == 0 {
		return results
	}
	if session.Referer == "" {
		session.Referer = page.URL
	}
	logger := s.logger.With(zap.Int("page", page.Index))

	var (
		textIdx []int
		ordinal = map[crawler.Kind]int{}
		g       errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for i, a := range artifacts {
		switch a.Kind {
		case crawler.KindText:
			textIdx = append(textIdx, i)
		case crawler.KindImage, crawler.KindFile:
			n := ordinal[a.Kind]
			ordinal[a.Kind]++
			if err := ctx.Err(); err != nil {
				results[i] = failed(a, "", err)
				continue
			}
			g.Go(func() error {
				start := time.Now()
				var res crawler.SavedArtifact
				if a.Kind == crawler.KindImage {
					res = s.images.Save(ctx, a, n, session)
				} else {
					res = s.files.Save(ctx, a, n, session)
				}
				results[i] = res
				s.observe(logger, res, time.Since(start))
				return nil
			})
		default:
			results[i] = failed(a, "", fmt.Errorf("%w: unknown artifact kind %q", crawler.ErrSave, a.Kind))
		}
	}

	for _, group := range groupBySection(artifacts, textIdx) {
		if err := ctx.Err(); err != nil {
			for _, i := range group.indices {
				results[i] = failed(artifacts[i], "", err)
			}
			continue
		}
		g.Go(func() error {
			start := time.Now()
			saved := s.text.SaveSection(ctx, page.Index, group.section, pick(artifacts, group.indices))
			elapsed := time.Since(start)
			for j, i := range group.indices {
				results[i] = saved[j]
				s.observe(logger, saved[j], elapsed)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (s *Saver) observe(logger *zap.Logger, res crawler.SavedArtifact, elapsed time.Duration) {
	s.metrics.ObserveArtifact(string(res.Kind), string(res.Status), elapsed)
	fields := []zap.Field{
		zap.String("kind", string(res.Kind)),
		zap.String("section", res.Section),
		zap.String("source", res.SourceField()),
		zap.String("status", string(res.Status)),
	}
	switch res.Status {
	case crawler.StatusFailed:
		logger.Warn("artifact not saved", append(fields, zap.String("value", res.Value), zap.String("error", res.Error))...)
	default:
		logger.Debug("artifact handled", append(fields, zap.String("path", res.Path))...)
	}
}

type sectionGroup struct {
	section string
	indices []int
}

// groupBySection keeps first-seen section order and extraction order within
// each section.
func groupBySection(artifacts []crawler.Artifact, indices []int) []sectionGroup {
	var groups []sectionGroup
	pos := map[string]int{}
	for _, i := range indices {
		sec := artifacts[i].Section
		j, ok := pos[sec]
		if !ok {
			j = len(groups)
			pos[sec] = j
			groups = append(groups, sectionGroup{section: sec})
		}
		groups[j].indices = append(groups[j].indices, i)
	}
	return groups
}

func pick(artifacts []crawler.Artifact, indices []int) []crawler.Artifact {
	out := make([]crawler.Artifact, len(indices))
	for j, i := range indices {
		out[j] = artifacts[i]
	}
	return out
}

func saved(a crawler.Artifact, p string) crawler.SavedArtifact {
	return crawler.SavedArtifact{Artifact: a, Status: crawler.StatusSaved, Path: p}
}

func skipped(a crawler.Artifact, p, reason string) crawler.SavedArtifact {
	return crawler.SavedArtifact{Artifact: a, Status: crawler.StatusSkipped, Path: p, Error: reason}
}

func failed(a crawler.Artifact, p string, err error) crawler.SavedArtifact {
	return crawler.SavedArtifact{Artifact: a, Status: crawler.StatusFailed, Path: p, Error: err.Error()}
}

func withMeta(a crawler.Artifact, kv ...string) crawler.Artifact {
	meta := make(map[string]string, len(a.Metadata)+len(kv)/2)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			meta[kv[i]] = kv[i+1]
		}
	}
	a.Metadata = meta
	return a
}

func itoa(n int) string { return strconv.Itoa(n) }
