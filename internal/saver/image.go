package saver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding

	"github.com/JakeFAU/harvester/internal/crawler"
)

// ImageSaver fetches, decodes and optionally preprocesses images before
// writing them.
type ImageSaver struct {
	fetchSaver
	processor crawler.ImageProcessor
}

// Save handles one image artifact. Formats the decoder does not recognize are
// written as fetched; recognized but corrupt images fail.
func (s *ImageSaver) Save(ctx context.Context, a crawler.Artifact, ordinal int, session crawler.Session) crawler.SavedArtifact {
	a, data, contentType, err := s.fetch(ctx, a, session)
	if err != nil {
		return failed(a, "", err)
	}

	format, err := decodeFormat(data)
	if err != nil {
		return failed(a, "", &crawler.SaveError{Err: err})
	}
	ext := a.Extension
	if format != "" {
		a = withMeta(a, crawler.MetaImageFormat, format)
		if ext == "" {
			ext = extForFormat(format)
		}
	}

	if s.processor != nil {
		out, newFormat, err := s.processor.Process(ctx, data, format)
		if err != nil {
			return failed(a, "", &crawler.SaveError{Err: fmt.Errorf("preprocess image: %w", err)})
		}
		data = out
		if newFormat != "" && newFormat != format {
			ext = extForFormat(newFormat)
			contentType = "image/" + newFormat
			a = withMeta(a, crawler.MetaImageFormat, newFormat)
		}
	}
	return s.write(ctx, a, ordinal, ext, contentType, data)
}

// decodeFormat reads only the image header. Unknown formats return "".
func decodeFormat(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	switch {
	case err == nil:
		return format, nil
	case errors.Is(err, image.ErrFormat):
		return "", nil
	default:
		return "", fmt.Errorf("decode image: %w", err)
	}
}

func extForFormat(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
