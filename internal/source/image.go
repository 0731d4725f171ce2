package source

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrNotFound is returned when the input directory does not exist.
var ErrNotFound = errors.New("input directory not found")

// Item is one source image. ID is 0 when the file name is not a positive
// integer.
type Item struct {
	ID   int
	Path string
	Name string
}

// Source enumerates images and decodes them into mutable buffers.
type Source interface {
	Items() []Item
	Load(item Item) (*image.NRGBA, error)
}

type ImageSource struct {
	items []Item
}

// NewRangeSource checks <dir>/<id>.<ext> for id in 1..maxID. Gaps are
// skipped; the first extension that exists wins for a given id.
func NewRangeSource(dir string, exts []string, maxID int) (*ImageSource, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	var items []Item
	for id := 1; id <= maxID; id++ {
		for _, ext := range exts {
			name := fmt.Sprintf("%d.%s", id, strings.TrimPrefix(ext, "."))
			path := filepath.Join(dir, name)
			fi, err := os.Stat(path)
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
			items = append(items, Item{ID: id, Path: path, Name: name})
			break
		}
	}
	return &ImageSource{items: items}, nil
}

// NewGlobSource lists every file in dir whose extension matches one of exts,
// case-insensitively, sorted by path.
func NewGlobSource(dir string, exts []string) (*ImageSource, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	var items []Item
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if !want[ext] {
			continue
		}
		items = append(items, Item{ID: ParseID(name), Path: filepath.Join(dir, name), Name: name})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return &ImageSource{items: items}, nil
}

func (s *ImageSource) Items() []Item {
	return s.items
}

// Load decodes the file, applying EXIF orientation, into an NRGBA buffer the
// caller owns.
func (s *ImageSource) Load(item Item) (*image.NRGBA, error) {
	img, err := imaging.Open(item.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", item.Name, err)
	}
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba, nil
	}
	return imaging.Clone(img), nil
}

// ParseID returns the positive integer stem of name, or 0.
func ParseID(name string) int {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	id, err := strconv.Atoi(stem)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func checkDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}
	return nil
}
