package sidecar

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/image/draw"
)

// PreviewOptions controls which files get previews and how they are rendered.
type PreviewOptions struct {
	// Patterns are glob patterns matched case-insensitively against file names.
	Patterns     []string
	MaxSizeBytes int64
	MaxDimension int
	Quality      int
}

// Previewer renders downscaled JPEG previews of images.
type Previewer struct {
	matchers []glob.Glob
	opts     PreviewOptions
}

func NewPreviewer(opts PreviewOptions) (*Previewer, error) {
	matchers := make([]glob.Glob, 0, len(opts.Patterns))
	for _, pattern := range opts.Patterns {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("preview pattern %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = jpeg.DefaultQuality
	}
	return &Previewer{matchers: matchers, opts: opts}, nil
}

// Enabled reports whether name matches one of the configured patterns.
func (p *Previewer) Enabled(name string) bool {
	lower := strings.ToLower(name)
	for _, g := range p.matchers {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

// Preview returns the preview of the regular file at path. Files that are not
// enabled or are too large yield an empty preview.
func (s *Store) Preview(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	p := s.preview
	if !p.Enabled(filepath.Base(path)) {
		return []byte{}, nil
	}
	if p.opts.MaxSizeBytes > 0 && info.Size() > p.opts.MaxSizeBytes {
		return []byte{}, nil
	}

	if data, ok := freshCache(PreviewPath(path), info); ok {
		return data, nil
	}

	data, err := p.Render(path)
	if err != nil {
		return nil, err
	}
	s.writeCache(PreviewPath(path), data)
	return data, nil
}

// Render decodes the image at path and encodes it as JPEG, scaled so its
// longer side is at most MaxDimension.
func (p *Previewer) Render(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), p.opts.MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode preview of %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func fitWithin(width, height, max int) (int, int) {
	if max <= 0 || (width <= max && height <= max) {
		return width, height
	}
	if width >= height {
		return max, scaleSide(height, max, width)
	}
	return scaleSide(width, max, height), max
}

func scaleSide(side, max, longest int) int {
	scaled := side * max / longest
	if scaled < 1 {
		return 1
	}
	return scaled
}
