package engine

import (
	"context"
	"fmt"
	"image"

	"github.com/ivlev/faceblur/internal/detector"
	"github.com/ivlev/faceblur/internal/effects"
	"github.com/ivlev/faceblur/internal/fusion"
	"github.com/ivlev/faceblur/internal/region"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Detection is everything one image produced, per generator and fused.
type Detection struct {
	Neural  []region.Candidate
	Cascade []region.Candidate
	Skin    []region.Candidate
	Fused   []region.Candidate
	Applied int
}

func (d *Detection) Regions() []region.Rect {
	return region.Rects(d.Fused)
}

// Pipeline runs detection, fusion and compositing for one worker. It is not
// safe for concurrent use; each worker owns one.
type Pipeline struct {
	Set      *detector.Set
	Effect   effects.Effect
	DebugDir string
	Frames   func(image.Image) (*detector.Frame, error)
	Log      logrus.FieldLogger
}

// Detect runs neural and cascade concurrently, then skin against the cascade
// output. Fusion seeds with the neural candidates and admits cascade before
// skin, so the result matches a sequential run.
func (p *Pipeline) Detect(ctx context.Context, img image.Image) (*Detection, error) {
	frames := p.Frames
	if frames == nil {
		frames = detector.NewFrame
	}
	frame, err := frames(img)
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	det := &Detection{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		det.Neural, err = p.Set.Neural.Generate(gctx, frame, nil)
		return err
	})
	g.Go(func() (err error) {
		det.Cascade, err = p.Set.Cascade.Generate(gctx, frame, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	if p.Set.Skin != nil {
		if det.Skin, err = p.Set.Skin.Generate(ctx, frame, det.Cascade); err != nil {
			return nil, fmt.Errorf("detect skin: %w", err)
		}
	}

	rest := make([]region.Candidate, 0, len(det.Cascade)+len(det.Skin))
	rest = append(rest, det.Cascade...)
	rest = append(rest, det.Skin...)
	det.Fused = fusion.Fuse(det.Neural, rest)
	return det, nil
}

// Process detects faces in img and obscures them in place. name is used for
// the debug overlay only.
func (p *Pipeline) Process(ctx context.Context, name string, img *image.NRGBA) (*Detection, error) {
	det, err := p.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	if p.DebugDir != "" {
		if path, err := writeOverlay(p.DebugDir, name, img, det); err != nil {
			p.Log.WithError(err).WithField("image", name).Warn("debug overlay not written")
		} else {
			p.Log.WithField("path", path).Debug("debug overlay written")
		}
	}
	det.Applied = effects.ApplyAll(p.Effect, img, det.Regions())
	return det, nil
}
