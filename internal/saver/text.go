package saver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// textEntry is one name/value pair of a section file.
type textEntry struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// textCodec serializes entries, appending to existing content when given.
type textCodec interface {
	extension() string
	encode(existing []byte, entries []textEntry) ([]byte, error)
}

var encoders = map[crawler.TextFormat]textCodec{
	crawler.TextLines: linesCodec{},
	crawler.TextJSON:  jsonCodec{},
	crawler.TextYAML:  yamlCodec{},
}

type linesCodec struct{}

func (linesCodec) extension() string { return "txt" }

func (linesCodec) encode(existing []byte, entries []textEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, e := range entries {
		buf.WriteString(e.Name)
		buf.WriteString(": ")
		buf.WriteString(escapeLine(e.Value))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

var lineEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`)

func escapeLine(s string) string { return lineEscaper.Replace(s) }

type jsonCodec struct{}

func (jsonCodec) extension() string { return "json" }

func (jsonCodec) encode(existing []byte, entries []textEntry) ([]byte, error) {
	var all []textEntry
	if len(bytes.TrimSpace(existing)) > 0 {
		if err := jsoniter.Unmarshal(existing, &all); err != nil {
			return nil, fmt.Errorf("decode existing json: %w", err)
		}
	}
	all = append(all, entries...)
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(all, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(out, '\n'), nil
}

type yamlCodec struct{}

func (yamlCodec) extension() string { return "yaml" }

func (yamlCodec) encode(existing []byte, entries []textEntry) ([]byte, error) {
	var all []textEntry
	if len(bytes.TrimSpace(existing)) > 0 {
		if err := yaml.Unmarshal(existing, &all); err != nil {
			return nil, fmt.Errorf("decode existing yaml: %w", err)
		}
	}
	all = append(all, entries...)
	out, err := yaml.Marshal(all)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return out, nil
}

// TextSaver writes one file per section. Writes are serialized so sections
// that render to the same path append in order.
type TextSaver struct {
	target crawler.StorageTargetPolicy
	store  crawler.BlobStore
	names  *namer

	mu sync.Mutex
}

// SaveSection serializes artifacts, all of one section, into a single file.
// Every artifact shares the outcome of that write.
func (s *TextSaver) SaveSection(ctx context.Context, page int, section string, artifacts []crawler.Artifact) []crawler.SavedArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	codec := encoders[s.target.Format]
	ext := s.target.DefaultExtension
	if ext == "" {
		ext = codec.extension()
	}
	label := section
	if label == "" {
		label = "text"
	}
	base := s.names.render(s.target, map[string]string{
		"section": label,
		"name":    label,
		"index":   "0",
		"ext":     ext,
		"page":    itoa(page),
	})

	all := func(fn func(crawler.Artifact) crawler.SavedArtifact) []crawler.SavedArtifact {
		out := make([]crawler.SavedArtifact, len(artifacts))
		for i, a := range artifacts {
			out[i] = fn(a)
		}
		return out
	}
	fail := func(p string, err error) []crawler.SavedArtifact {
		serr := &crawler.SaveError{Path: p, Err: err}
		return all(func(a crawler.Artifact) crawler.SavedArtifact { return failed(a, p, serr) })
	}

	entries := make([]textEntry, len(artifacts))
	for i, a := range artifacts {
		name := a.SourceField()
		if name == "" {
			name = "value"
		}
		entries[i] = textEntry{Name: name, Value: a.Value}
	}

	p := base
	var existing []byte
	if s.target.Append {
		data, err := s.store.ReadObject(ctx, p)
		switch {
		case err == nil:
			existing = data
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fail(p, err)
		}
	} else {
		claimed, skip, err := s.names.claim(ctx, s.target.Collision, base)
		if err != nil {
			return fail(base, err)
		}
		if skip {
			return all(func(a crawler.Artifact) crawler.SavedArtifact { return skipped(a, claimed, "exists") })
		}
		p = claimed
	}

	data, err := codec.encode(existing, entries)
	if err != nil {
		return fail(p, err)
	}
	location, err := s.store.PutObject(ctx, p, contentTypeFor(s.target.Format), data)
	if err != nil {
		s.names.release(p)
		return fail(p, err)
	}
	return all(func(a crawler.Artifact) crawler.SavedArtifact { return saved(a, location) })
}

func contentTypeFor(format crawler.TextFormat) string {
	switch format {
	case crawler.TextJSON:
		return "application/json"
	case crawler.TextYAML:
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}
