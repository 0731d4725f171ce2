package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/ivlev/faceblur/internal/region"
	"gocv.io/x/gocv"
)

// Generator produces face candidates for one frame. prior carries the output
// of the generators this one depends on (the skin generator consults the
// cascade candidates); independent generators ignore it.
type Generator interface {
	Kind() region.Provenance
	Generate(ctx context.Context, f *Frame, prior []region.Candidate) ([]region.Candidate, error)
	Close() error
}

// Frame holds the OpenCV views of one image. Primitive calls that outlive
// their timeout keep reading these Mats, so Close defers the release until
// every such call has returned.
type Frame struct {
	Width, Height int
	BGR           gocv.Mat
	Gray          gocv.Mat // equalized grayscale

	inflight sync.WaitGroup
	once     sync.Once
	owned    bool
}

func NewFrame(img image.Image) (*Frame, error) {
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert to mat: %w", err)
	}
	if bgr.Empty() {
		bgr.Close()
		return nil, errors.New("convert to mat: empty image")
	}

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	eq := gocv.NewMat()
	gocv.EqualizeHist(gray, &eq)
	gray.Close()

	b := img.Bounds()
	return &Frame{Width: b.Dx(), Height: b.Dy(), BGR: bgr, Gray: eq, owned: true}, nil
}

// BlankFrame carries only the dimensions, for generators that never read
// pixels.
func BlankFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h}
}

func (f *Frame) track() func() {
	f.inflight.Add(1)
	return f.inflight.Done
}

// Close releases the Mats once no primitive call is using them. It does not
// block the caller.
func (f *Frame) Close() error {
	f.once.Do(func() {
		if !f.owned {
			return
		}
		go func() {
			f.inflight.Wait()
			f.BGR.Close()
			f.Gray.Close()
		}()
	})
	return nil
}

// Set is one worker's generators. OpenCV nets and classifiers are not safe
// to share, so every worker builds its own Set.
type Set struct {
	Neural  Generator
	Cascade Generator
	Skin    Generator
}

func (s *Set) Close() error {
	var errs []error
	for _, g := range []Generator{s.Neural, s.Cascade, s.Skin} {
		if g != nil {
			errs = append(errs, g.Close())
		}
	}
	return errors.Join(errs...)
}
