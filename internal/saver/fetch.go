package saver

import (
	"context"
	"mime"
	"strings"

	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/hash/sha256"
)

// fetchSaver is the fetch, name and write path shared by images and files.
type fetchSaver struct {
	kind    crawler.Kind
	target  crawler.StorageTargetPolicy
	store   crawler.BlobStore
	fetcher crawler.Fetcher
	names   *namer
}

// fetch returns the artifact bytes, downloading them unless already attached.
func (s *fetchSaver) fetch(ctx context.Context, a crawler.Artifact, session crawler.Session) (crawler.Artifact, []byte, string, error) {
	if len(a.Data) > 0 {
		return a, a.Data, "", nil
	}
	res, err := s.fetcher.FetchBytes(ctx, a.Value, session)
	if err != nil {
		return a, nil, "", err
	}
	contentType := res.ContentType
	if mediaType, _, perr := mime.ParseMediaType(contentType); perr == nil {
		contentType = mediaType
	}
	a = withMeta(a, crawler.MetaContentType, contentType, crawler.MetaAttempts, itoa(res.Attempts))
	return a, res.Body, contentType, nil
}

// write names and stores data under the target, applying the collision rule.
func (s *fetchSaver) write(ctx context.Context, a crawler.Artifact, ordinal int, ext, contentType string, data []byte) crawler.SavedArtifact {
	if ext == "" {
		ext = s.target.DefaultExtension
	}
	digest := sha256.Hex(data)
	a = withMeta(a, crawler.MetaSHA256, digest)
	base := s.names.render(s.target, map[string]string{
		"section": a.Section,
		"name":    a.DisplayName(ordinal),
		"index":   itoa(ordinal),
		"ext":     ext,
		"page":    itoa(a.Page),
		"hash":    digest[:16],
	})
	p, skip, err := s.names.claim(ctx, s.target.Collision, base)
	if err != nil {
		return failed(a, base, &crawler.SaveError{Path: base, Err: err})
	}
	if skip {
		return skipped(a, p, "exists")
	}
	if contentType == "" {
		contentType = mime.TypeByExtension("." + ext)
	}
	location, err := s.store.PutObject(ctx, p, contentType, data)
	if err != nil {
		s.names.release(p)
		return failed(a, p, &crawler.SaveError{Path: p, Err: err})
	}
	return saved(a, location)
}

// FileSaver persists file artifacts as fetched.
type FileSaver struct {
	fetchSaver
}

// Save fetches and writes one file artifact.
func (s *FileSaver) Save(ctx context.Context, a crawler.Artifact, ordinal int, session crawler.Session) crawler.SavedArtifact {
	a, data, contentType, err := s.fetch(ctx, a, session)
	if err != nil {
		return failed(a, "", err)
	}
	ext := a.Extension
	if ext == "" {
		ext = extensionFor(contentType)
	}
	return s.write(ctx, a, ordinal, ext, contentType, data)
}

// extensionFor maps a media type to a bare extension, or "".
func extensionFor(contentType string) string {
	if contentType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.TrimPrefix(exts[0], ".")
}
