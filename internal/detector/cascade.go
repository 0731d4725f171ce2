package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ivlev/faceblur/internal/region"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// DefaultCascadeDirs are searched when no cascade directory is configured.
var DefaultCascadeDirs = []string{
	"models/haarcascades",
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
	"/usr/share/opencv/haarcascades",
}

// CascadeMinSide is the exclusive lower bound on raw box width and height.
const CascadeMinSide = 20

var cascadeMerger = region.Merger{Metric: region.CornerProximity, Threshold: 0.25}

// SweepParams is one point of the declared grid.
type SweepParams struct {
	Classifier   string
	Scale        float64
	MinNeighbors int
}

// Attempt is the outcome of one grid point. Err is set when the attempt was
// skipped (load failure, primitive error, panic or timeout).
type Attempt struct {
	Params SweepParams
	Boxes  []image.Rectangle
	Err    error
}

func (a Attempt) Skipped() bool { return a.Err != nil }

// Grid enumerates classifier, then scale, then neighbors.
func Grid(classifiers []string, scales []float64, neighbors []int) []SweepParams {
	grid := make([]SweepParams, 0, len(classifiers)*len(scales)*len(neighbors))
	for _, c := range classifiers {
		for _, s := range scales {
			for _, n := range neighbors {
				grid = append(grid, SweepParams{Classifier: c, Scale: s, MinNeighbors: n})
			}
		}
	}
	return grid
}

// Sweep runs every grid point in order. A failing point never stops the
// sweep; only a cancelled ctx does, and the remaining points are reported as
// skipped.
func Sweep(ctx context.Context, grid []SweepParams, run func(SweepParams) ([]image.Rectangle, error)) []Attempt {
	attempts := make([]Attempt, len(grid))
	for i, p := range grid {
		attempts[i].Params = p
		if err := ctx.Err(); err != nil {
			attempts[i].Err = err
			continue
		}
		attempts[i].Boxes, attempts[i].Err = run(p)
	}
	return attempts
}

// Collect drops small boxes and merges near-identical ones in attempt order.
func Collect(attempts []Attempt) []region.Candidate {
	var raw []region.Candidate
	for _, a := range attempts {
		if a.Skipped() {
			continue
		}
		for _, b := range a.Boxes {
			if b.Dx() > CascadeMinSide && b.Dy() > CascadeMinSide {
				raw = append(raw, region.New(region.FromImage(b), region.Cascade))
			}
		}
	}
	return cascadeMerger.Merge(nil, raw)
}

// CascadePrimitive is one loaded classifier.
type CascadePrimitive interface {
	Name() string
	Detect(ctx context.Context, gray gocv.Mat, scale float64, minNeighbors int) ([]image.Rectangle, error)
	Close() error
}

type HaarClassifier struct {
	name string
	mu   sync.Mutex
	cc   gocv.CascadeClassifier
}

// LoadHaar looks for name in dirs (or DefaultCascadeDirs when dirs is empty)
// and loads the first readable file.
func LoadHaar(name string, dirs []string) (*HaarClassifier, error) {
	if len(dirs) == 0 {
		dirs = DefaultCascadeDirs
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cc := gocv.NewCascadeClassifier()
		if cc.Load(path) {
			return &HaarClassifier{name: name, cc: cc}, nil
		}
		cc.Close()
	}
	return nil, fmt.Errorf("cascade %s not loadable from %v", name, dirs)
}

func (h *HaarClassifier) Name() string { return h.name }

// Detect fails fast with ErrBusy while a timed-out call is still running,
// so the rest of the sweep is skipped instead of queueing behind it.
func (h *HaarClassifier) Detect(ctx context.Context, gray gocv.Mat, scale float64, minNeighbors int) ([]image.Rectangle, error) {
	if !h.mu.TryLock() {
		return nil, ErrBusy
	}
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.cc.DetectMultiScaleWithParams(gray, scale, minNeighbors, 0, image.Point{}, image.Point{}), nil
}

func (h *HaarClassifier) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cc.Close()
}

// CascadeGenerator sweeps the declared grid over the equalized grayscale
// frame. Grid points naming a classifier that failed to load are skipped.
type CascadeGenerator struct {
	Classifiers map[string]CascadePrimitive
	Grid        []SweepParams
	Timeout     time.Duration
	Log         logrus.FieldLogger
}

func (g *CascadeGenerator) Kind() region.Provenance { return region.Cascade }

func (g *CascadeGenerator) Generate(ctx context.Context, f *Frame, _ []region.Candidate) ([]region.Candidate, error) {
	attempts := Sweep(ctx, g.Grid, func(p SweepParams) ([]image.Rectangle, error) {
		cls, ok := g.Classifiers[p.Classifier]
		if !ok {
			return nil, fmt.Errorf("classifier %s not loaded", p.Classifier)
		}
		return call(ctx, f, g.Timeout, func(cctx context.Context) ([]image.Rectangle, error) {
			return cls.Detect(cctx, f.Gray, p.Scale, p.MinNeighbors)
		})
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	skipped := 0
	for _, a := range attempts {
		if !a.Skipped() {
			continue
		}
		skipped++
		if _, loaded := g.Classifiers[a.Params.Classifier]; loaded {
			g.Log.WithFields(logrus.Fields{
				"classifier": a.Params.Classifier,
				"scale":      a.Params.Scale,
				"neighbors":  a.Params.MinNeighbors,
			}).WithError(a.Err).Warn("cascade attempt skipped")
		}
	}
	out := Collect(attempts)
	g.Log.WithFields(logrus.Fields{"attempts": len(attempts), "skipped": skipped, "boxes": len(out)}).Debug("cascade sweep done")
	return out, nil
}

func (g *CascadeGenerator) Close() error {
	for _, c := range g.Classifiers {
		c.Close()
	}
	return nil
}
