// Package normalizer turns raw extracted records into typed artifacts.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// Inference sources recorded in artifact metadata.
const (
	InferenceExtension = "extension"
	InferenceHint      = "hint"
	InferenceDefault   = "default"
)

var (
	defaultImageExtensions = []string{
		"jpg", "jpeg", "png", "gif", "webp", "bmp", "svg", "tif", "tiff", "ico", "avif", "heic",
	}
	defaultFileExtensions = []string{
		// documents
		"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "ods", "odp", "rtf", "txt", "csv", "tsv", "epub",
		// archives
		"zip", "tar", "gz", "tgz", "bz2", "xz", "7z", "rar",
		// video
		"mp4", "mov", "avi", "mkv", "webm", "m4v",
		// audio
		"mp3", "wav", "ogg", "flac", "m4a", "aac",
	}

	fieldNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)
)

type kindHint struct {
	pattern glob.Glob
	kind    crawler.Kind
}

// Normalizer infers artifact kinds. It holds no mutable state, so one instance
// can be shared and every call is deterministic.
type Normalizer struct {
	hints          []kindHint
	imageExt       map[string]struct{}
	fileExt        map[string]struct{}
	unknownURLKind crawler.Kind
	defaultSection string
}

// New compiles the kind-hint globs and extension tables of policy.
func New(policy crawler.NormalizationPolicy) (*Normalizer, error) {
	n := &Normalizer{
		imageExt:       extensionSet(defaultImageExtensions, policy.ImageExtensions),
		fileExt:        extensionSet(defaultFileExtensions, policy.FileExtensions),
		unknownURLKind: policy.UnknownURLKind,
		defaultSection: policy.DefaultSection,
	}
	if n.unknownURLKind == "" {
		n.unknownURLKind = crawler.KindFile
	}
	if !n.unknownURLKind.Fetchable() {
		return nil, fmt.Errorf("unknown url kind must be image or file, got %q", n.unknownURLKind)
	}
	for _, h := range policy.KindHints {
		g, err := glob.Compile(strings.ToLower(h.Pattern))
		if err != nil {
			return nil, fmt.Errorf("compile kind hint %q: %w", h.Pattern, err)
		}
		if _, err := crawler.ParseKind(string(h.Kind)); err != nil {
			return nil, fmt.Errorf("kind hint %q: %w", h.Pattern, err)
		}
		n.hints = append(n.hints, kindHint{pattern: g, kind: h.Kind})
	}
	return n, nil
}

func extensionSet(base, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, ext := range list {
			ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
			if ext != "" {
				set[ext] = struct{}{}
			}
		}
	}
	return set
}

// Normalize converts one record into artifacts in field order. Blank values are
// dropped and lists are expanded element by element.
func (n *Normalizer) Normalize(record crawler.RawRecord, section string) []crawler.Artifact {
	return n.normalize(record, section, 0)
}

// NormalizeMany applies Normalize to each record with sectionTemplate formatted
// using the record index ({index}).
func (n *Normalizer) NormalizeMany(records []crawler.RawRecord, sectionTemplate string) []crawler.Artifact {
	return n.NormalizePage(0, records, sectionTemplate)
}

// NormalizePage is NormalizeMany for one crawled page: {page} is available to
// the template and every artifact carries the page number.
func (n *Normalizer) NormalizePage(page int, records []crawler.RawRecord, sectionTemplate string) []crawler.Artifact {
	var out []crawler.Artifact
	for i, record := range records {
		section := crawler.FormatTemplate(sectionTemplate, map[string]string{
			"index": strconv.Itoa(i),
			"page":  strconv.Itoa(page),
		})
		out = append(out, n.normalize(record, section, page)...)
	}
	return out
}

func (n *Normalizer) normalize(record crawler.RawRecord, section string, page int) []crawler.Artifact {
	if strings.TrimSpace(section) == "" {
		section = n.defaultSection
	}
	var out []crawler.Artifact
	for _, field := range record {
		name := FieldName(field.Name)
		out = n.appendField(out, field.Value, fieldContext{
			name:    name,
			source:  field.Name,
			section: section,
			page:    page,
			index:   -1,
		})
	}
	return out
}

type fieldContext struct {
	name    string
	source  string
	section string
	page    int
	index   int
}

func (n *Normalizer) appendField(out []crawler.Artifact, v crawler.RawValue, fc fieldContext) []crawler.Artifact {
	if v.IsBlank() {
		return out
	}
	if v.Kind == crawler.RawList {
		for i, item := range v.Items {
			child := fc
			child.index = i
			child.source = fc.source + "[" + strconv.Itoa(i) + "]"
			out = n.appendField(out, item, child)
		}
		return out
	}
	return append(out, n.artifact(v, fc))
}

func (n *Normalizer) artifact(v crawler.RawValue, fc fieldContext) crawler.Artifact {
	kind, inferredType, inference := n.classify(fc.name, v)
	value := v.Stringify()
	if inferredType == "url" {
		value = strings.TrimSpace(value)
	}
	a := crawler.Artifact{
		Kind:     kind,
		Section:  fc.section,
		NameHint: fc.name,
		Value:    value,
		Index:    fc.index,
		Page:     fc.page,
		Metadata: map[string]string{
			crawler.MetaSourceField:  fc.source,
			crawler.MetaInferredType: inferredType,
			crawler.MetaInference:    inference,
		},
	}
	if kind.Fetchable() {
		a.Extension = crawler.URLExtension(value)
	}
	return a
}

// classify returns the kind, the raw value type and how the kind was decided.
func (n *Normalizer) classify(name string, v crawler.RawValue) (crawler.Kind, string, string) {
	hint, hinted := n.hintFor(name)
	if v.Kind != crawler.RawString {
		inferred := v.Kind.String()
		if hinted && hint == crawler.KindText {
			return crawler.KindText, inferred, InferenceHint
		}
		return crawler.KindText, inferred, InferenceDefault
	}

	text := strings.TrimSpace(v.Text)
	if !crawler.IsAbsoluteHTTP(text) {
		if hinted && hint == crawler.KindText {
			return crawler.KindText, "string", InferenceHint
		}
		return crawler.KindText, "string", InferenceDefault
	}
	if hinted {
		return hint, "url", InferenceHint
	}
	ext := crawler.URLExtension(text)
	if _, ok := n.imageExt[ext]; ok {
		return crawler.KindImage, "url", InferenceExtension
	}
	if _, ok := n.fileExt[ext]; ok {
		return crawler.KindFile, "url", InferenceExtension
	}
	return n.unknownURLKind, "url", InferenceDefault
}

func (n *Normalizer) hintFor(name string) (crawler.Kind, bool) {
	for _, h := range n.hints {
		if h.pattern.Match(name) {
			return h.kind, true
		}
	}
	return "", false
}

// FieldName lowercases a field name and replaces characters outside
// [a-z0-9_-] with underscores.
func FieldName(raw string) string {
	name := fieldNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_")
	return strings.Trim(name, "_")
}
