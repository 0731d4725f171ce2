package detector

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/ivlev/faceblur/internal/config"
	"github.com/ivlev/faceblur/internal/region"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestGridOrder(t *testing.T) {
	grid := Grid([]string{"a", "b"}, []float64{1.1, 1.2}, []int{1, 2, 3})
	if len(grid) != 12 {
		t.Fatalf("grid size = %d, want 12", len(grid))
	}
	want := []SweepParams{
		{"a", 1.1, 1}, {"a", 1.1, 2}, {"a", 1.1, 3},
		{"a", 1.2, 1},
	}
	for i, w := range want {
		if grid[i] != w {
			t.Errorf("grid[%d] = %+v, want %+v", i, grid[i], w)
		}
	}
	if grid[6].Classifier != "b" {
		t.Errorf("classifier should be the outer loop, got %+v", grid[6])
	}
}

func TestSweepContinuesAfterFailure(t *testing.T) {
	grid := Grid([]string{"c"}, []float64{1.1}, []int{1, 2, 3})
	attempts := Sweep(context.Background(), grid, func(p SweepParams) ([]image.Rectangle, error) {
		if p.MinNeighbors == 2 {
			return nil, errors.New("boom")
		}
		return []image.Rectangle{image.Rect(p.MinNeighbors*100, 0, p.MinNeighbors*100+40, 40)}, nil
	})
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts", len(attempts))
	}
	if attempts[0].Skipped() || !attempts[1].Skipped() || attempts[2].Skipped() {
		t.Errorf("unexpected skip pattern: %+v", attempts)
	}
	if got := Collect(attempts); len(got) != 2 {
		t.Errorf("Collect = %v, want 2 boxes", got)
	}
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	attempts := Sweep(ctx, Grid([]string{"c"}, []float64{1.1}, []int{1, 2}), func(SweepParams) ([]image.Rectangle, error) {
		calls++
		return nil, nil
	})
	if calls != 0 {
		t.Errorf("run called %d times after cancel", calls)
	}
	for _, a := range attempts {
		if !errors.Is(a.Err, context.Canceled) {
			t.Errorf("attempt %+v not marked cancelled", a.Params)
		}
	}
}

func TestCollectCornerDedup(t *testing.T) {
	attempts := []Attempt{
		{Boxes: []image.Rectangle{image.Rect(10, 10, 60, 60)}},
		{Boxes: []image.Rectangle{image.Rect(15, 12, 65, 62)}},
		{Boxes: []image.Rectangle{image.Rect(200, 200, 220, 260)}}, // 20 wide, dropped
		{Boxes: []image.Rectangle{image.Rect(300, 300, 321, 321)}},
	}
	got := region.Rects(Collect(attempts))
	want := []region.Rect{{X: 10, Y: 10, Width: 50, Height: 50}, {X: 300, Y: 300, Width: 21, Height: 21}}
	if len(got) != len(want) {
		t.Fatalf("Collect = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("box %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNeuralCandidates(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.9, X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5},
		{Confidence: 0.15, X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.6},  // not above threshold
		{Confidence: 0.5, X1: -0.2, Y1: 0.5, X2: 1.3, Y2: 1.2},  // clamped
		{Confidence: 0.8, X1: 0.0, Y1: 0.0, X2: 0.04, Y2: 0.5},  // 16 wide
		{Confidence: 0.8, X1: 0.0, Y1: 0.0, X2: 0.035, Y2: 0.5}, // 14 wide
	}
	got := NeuralCandidates(dets, 400, 200, 0.15)
	if len(got) != 3 {
		t.Fatalf("got %d candidates: %+v", len(got), got)
	}
	if got[0].Rect != (region.Rect{X: 40, Y: 20, Width: 160, Height: 80}) {
		t.Errorf("scaled box = %v", got[0].Rect)
	}
	if got[1].Rect != (region.Rect{X: 0, Y: 100, Width: 400, Height: 100}) {
		t.Errorf("clamped box = %v", got[1].Rect)
	}
	if !got[0].Scored || got[0].Confidence != 0.9 || got[0].Source != region.Neural {
		t.Errorf("candidate metadata = %+v", got[0])
	}
}

func TestSkinCandidates(t *testing.T) {
	prior := []region.Candidate{region.New(region.Rect{X: 0, Y: 0, Width: 100, Height: 100}, region.Cascade)}
	contours := []Contour{
		{Area: 2000, Box: image.Rect(10, 10, 90, 90)},    // inside the cascade box
		{Area: 2000, Box: image.Rect(200, 0, 260, 60)},   // kept
		{Area: 2000, Box: image.Rect(210, 5, 270, 65)},   // overlaps the previous skin box
		{Area: 700, Box: image.Rect(400, 0, 460, 60)},    // area too small
		{Area: 5000, Box: image.Rect(500, 0, 800, 50)},   // ratio 6
		{Area: 900, Box: image.Rect(900, 0, 925, 60)},    // 25 wide
		{Area: 1500, Box: image.Rect(1000, 0, 1040, 40)}, // kept
	}
	got := region.Rects(SkinCandidates(contours, prior))
	want := []region.Rect{{X: 200, Y: 0, Width: 60, Height: 60}, {X: 1000, Y: 0, Width: 40, Height: 40}}
	if len(got) != len(want) {
		t.Fatalf("SkinCandidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("box %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCallTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, err := call(context.Background(), nil, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestCallRecoversPanic(t *testing.T) {
	_, err := call(context.Background(), nil, time.Second, func(context.Context) (int, error) {
		panic("opencv exploded")
	})
	if !errors.Is(err, ErrPanic) {
		t.Errorf("expected ErrPanic, got %v", err)
	}
}

func TestCallReturnsValue(t *testing.T) {
	v, err := call(context.Background(), nil, 0, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("call = %q, %v", v, err)
	}
}

func TestMissingArtifactsDegrade(t *testing.T) {
	cfg := config.Default().Detect
	cfg.ModelDir = t.TempDir()
	cfg.CascadeDir = t.TempDir()
	log := quietLogger()

	set, err := NewSet(cfg, log)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	defer set.Close()

	got, err := set.Neural.Generate(context.Background(), nil, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("neural without model = %v, %v", got, err)
	}
	got, err = set.Cascade.Generate(context.Background(), nil, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("cascade without classifiers = %v, %v", got, err)
	}
	if set.Skin == nil {
		t.Error("skin generator should be enabled by default")
	}
}

func TestUnknownGenerator(t *testing.T) {
	if _, err := NewGenerator("ocr", config.Default().Detect, quietLogger()); err == nil {
		t.Error("expected error for unknown kind")
	}
}

// scriptedCascade answers each grid point from a table. Points in hang block
// until their context ends; points in fail return an error.
type scriptedCascade struct {
	boxes map[SweepParams]image.Rectangle
	hang  map[SweepParams]bool
	fail  map[SweepParams]bool
}

func (s *scriptedCascade) Name() string { return "scripted" }
func (s *scriptedCascade) Close() error { return nil }

func (s *scriptedCascade) Detect(ctx context.Context, _ gocv.Mat, scale float64, n int) ([]image.Rectangle, error) {
	p := SweepParams{Classifier: "scripted", Scale: scale, MinNeighbors: n}
	switch {
	case s.hang[p]:
		<-ctx.Done()
		return nil, ctx.Err()
	case s.fail[p]:
		return nil, errors.New("bad parameters")
	}
	return []image.Rectangle{s.boxes[p]}, nil
}

func TestCascadeGeneratorSkipsStalledAndFailedAttempts(t *testing.T) {
	p := func(scale float64, n int) SweepParams { return SweepParams{"scripted", scale, n} }
	cls := &scriptedCascade{
		boxes: map[SweepParams]image.Rectangle{
			p(1.1, 1): image.Rect(0, 0, 30, 30),
			p(1.1, 2): image.Rect(100, 0, 130, 30),
			p(1.2, 1): image.Rect(200, 0, 230, 30),
			p(1.2, 2): image.Rect(300, 0, 330, 30),
		},
		hang: map[SweepParams]bool{p(1.1, 2): true},
		fail: map[SweepParams]bool{p(1.2, 1): true},
	}
	g := &CascadeGenerator{
		Classifiers: map[string]CascadePrimitive{"scripted": cls},
		Grid:        Grid([]string{"scripted", "missing"}, []float64{1.1, 1.2}, []int{1, 2}),
		Timeout:     20 * time.Millisecond,
		Log:         quietLogger(),
	}
	f := BlankFrame(400, 100)
	defer f.Close()

	start := time.Now()
	got, err := g.Generate(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("sweep waited on the stalled attempt")
	}
	want := []region.Rect{{X: 0, Y: 0, Width: 30, Height: 30}, {X: 300, Y: 0, Width: 30, Height: 30}}
	rects := region.Rects(got)
	if len(rects) != len(want) {
		t.Fatalf("boxes = %v, want %v", rects, want)
	}
	for i := range want {
		if rects[i] != want[i] {
			t.Errorf("box %d = %v, want %v", i, rects[i], want[i])
		}
	}
}

func TestHeldPrimitivesReportBusy(t *testing.T) {
	ctx := context.Background()

	h := &HaarClassifier{name: "held"}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.Detect(ctx, gocv.Mat{}, 1.1, 3); !errors.Is(err, ErrBusy) {
		t.Errorf("Haar Detect = %v, want ErrBusy", err)
	}

	c := &CaffeNet{}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Infer(ctx, gocv.Mat{}); !errors.Is(err, ErrBusy) {
		t.Errorf("Caffe Infer = %v, want ErrBusy", err)
	}

	// A held classifier skips every grid point without blocking the sweep.
	g := &CascadeGenerator{
		Classifiers: map[string]CascadePrimitive{"held": h},
		Grid:        Grid([]string{"held"}, []float64{1.1, 1.2}, []int{1, 2}),
		Timeout:     time.Second,
		Log:         quietLogger(),
	}
	f := BlankFrame(50, 50)
	defer f.Close()
	got, err := g.Generate(ctx, f, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Generate = %v, %v", got, err)
	}
}
