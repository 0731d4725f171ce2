package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/ivlev/faceblur/internal/source"
)

// ErrUnsupportedFormat is returned for file names imaging cannot encode.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Strategy decides where a processed image goes. Tracked strategies consult
// and update the ledger; untracked ones leave it alone.
type Strategy interface {
	Name() string
	Tracked() bool
	Write(ctx context.Context, item source.Item, img image.Image) (string, error)
}

// Sink stores encoded bytes under a name and returns their location.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Encode picks the format from the file extension. quality applies to JPEG.
func Encode(img image.Image, name string, quality int) ([]byte, error) {
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// InPlace overwrites the source file.
type InPlace struct {
	Quality int
}

func (s *InPlace) Name() string  { return "inplace" }
func (s *InPlace) Tracked() bool { return true }

func (s *InPlace) Write(ctx context.Context, item source.Item, img image.Image) (string, error) {
	data, err := Encode(img, item.Name, s.Quality)
	if err != nil {
		return "", err
	}
	return (&DirSink{Dir: filepath.Dir(item.Path)}).Put(ctx, filepath.Base(item.Path), data)
}

// Export writes <Prefix><name> to a sink and leaves the source untouched.
type Export struct {
	Sink    Sink
	Prefix  string
	Quality int
}

func (s *Export) Name() string  { return "export" }
func (s *Export) Tracked() bool { return false }

func (s *Export) Write(ctx context.Context, item source.Item, img image.Image) (string, error) {
	name := s.Prefix + item.Name
	data, err := Encode(img, name, s.Quality)
	if err != nil {
		return "", err
	}
	return s.Sink.Put(ctx, name, data)
}

// DirSink writes files into a local directory, creating it on demand.
type DirSink struct {
	Dir string
}

// Put writes through a temporary file and renames it over the target, so a
// failed write never leaves a truncated image behind.
func (d *DirSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", d.Dir, err)
	}

	target := filepath.Join(d.Dir, name)
	tmp, err := os.CreateTemp(d.Dir, ".faceblur-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	mode := os.FileMode(0644)
	if fi, err := os.Stat(target); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("replace %s: %w", target, err)
	}
	return target, nil
}
