package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/ivlev/faceblur/internal/region"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrModelMissing is returned by LoadCaffe when an artifact is absent.
var ErrModelMissing = errors.New("model artifact missing")

// Detection is one raw row of the SSD output, coordinates normalized to
// [0,1] of the input image.
type Detection struct {
	Confidence     float64
	X1, Y1, X2, Y2 float64
}

// NeuralPrimitive runs the face network on a BGR frame.
type NeuralPrimitive interface {
	Infer(ctx context.Context, bgr gocv.Mat) ([]Detection, error)
	Close() error
}

// CaffeNet is the res10 300x300 SSD face detector.
type CaffeNet struct {
	mu  sync.Mutex
	net gocv.Net
}

func LoadCaffe(prototxt, model string) (*CaffeNet, error) {
	for _, p := range []string{prototxt, model} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrModelMissing, p)
		}
	}
	net := gocv.ReadNetFromCaffe(prototxt, model)
	if net.Empty() {
		return nil, fmt.Errorf("load caffe model %s", model)
	}
	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &CaffeNet{net: net}, nil
}

func (c *CaffeNet) Infer(ctx context.Context, bgr gocv.Mat) ([]Detection, error) {
	if !c.mu.TryLock() {
		return nil, ErrBusy
	}
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(bgr, &resized, image.Pt(300, 300), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, 1.0, image.Pt(300, 300), gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	// 1x1xNx7 viewed as N rows of: image id, class, confidence, x1, y1, x2, y2
	rows := out.Total() / 7
	if rows == 0 {
		return nil, nil
	}
	flat := out.Reshape(1, rows)
	defer flat.Close()

	dets := make([]Detection, 0, rows)
	for i := 0; i < rows; i++ {
		dets = append(dets, Detection{
			Confidence: float64(flat.GetFloatAt(i, 2)),
			X1:         float64(flat.GetFloatAt(i, 3)),
			Y1:         float64(flat.GetFloatAt(i, 4)),
			X2:         float64(flat.GetFloatAt(i, 5)),
			Y2:         float64(flat.GetFloatAt(i, 6)),
		})
	}
	return dets, nil
}

func (c *CaffeNet) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}

// NeuralGenerator wraps the network. A nil primitive (missing model) yields
// no candidates.
type NeuralGenerator struct {
	Net       NeuralPrimitive
	Threshold float64
	Timeout   time.Duration
	Log       logrus.FieldLogger
}

func (g *NeuralGenerator) Kind() region.Provenance { return region.Neural }

func (g *NeuralGenerator) Generate(ctx context.Context, f *Frame, _ []region.Candidate) ([]region.Candidate, error) {
	if g.Net == nil {
		return nil, nil
	}
	dets, err := call(ctx, f, g.Timeout, func(cctx context.Context) ([]Detection, error) {
		return g.Net.Infer(cctx, f.BGR)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.Log.WithError(err).Warn("neural inference skipped")
		return nil, nil
	}
	return NeuralCandidates(dets, f.Width, f.Height, g.Threshold), nil
}

func (g *NeuralGenerator) Close() error {
	if g.Net == nil {
		return nil
	}
	return g.Net.Close()
}

// NeuralCandidates scales detections to a w x h image and keeps those above
// threshold that are wider and taller than 15 pixels after clamping.
func NeuralCandidates(dets []Detection, w, h int, threshold float64) []region.Candidate {
	var out []region.Candidate
	for _, d := range dets {
		if !(d.Confidence > threshold) {
			continue
		}
		x1 := max(int(d.X1*float64(w)), 0)
		y1 := max(int(d.Y1*float64(h)), 0)
		x2 := min(int(d.X2*float64(w)), w)
		y2 := min(int(d.Y2*float64(h)), h)
		if x2-x1 > 15 && y2-y1 > 15 {
			out = append(out, region.NewScored(region.Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, region.Neural, d.Confidence))
		}
	}
	return out
}
