package detector

import (
	"context"
	"image"
	"time"

	"github.com/ivlev/faceblur/internal/region"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var skinMerger = region.Merger{Metric: region.AreaOverlap, Threshold: 0.2}

// Contour is an external skin contour: polygon area and bounding box.
type Contour struct {
	Area float64
	Box  image.Rectangle
}

// SkinGenerator finds skin-coloured blobs not already covered by the cascade
// candidates passed as prior.
type SkinGenerator struct {
	Timeout time.Duration
	Log     logrus.FieldLogger
}

func (g *SkinGenerator) Kind() region.Provenance { return region.Skin }

func (g *SkinGenerator) Generate(ctx context.Context, f *Frame, prior []region.Candidate) ([]region.Candidate, error) {
	contours, err := call(ctx, f, g.Timeout, func(context.Context) ([]Contour, error) {
		return SkinContours(f.BGR), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.Log.WithError(err).Warn("skin detection skipped")
		return nil, nil
	}
	return SkinCandidates(contours, prior), nil
}

func (g *SkinGenerator) Close() error { return nil }

// SkinContours thresholds the YCrCb skin band, opens the mask with a 5x5
// ellipse (erode once, dilate twice) and returns the external contours.
func SkinContours(bgr gocv.Mat) []Contour {
	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(bgr, &ycrcb, gocv.ColorBGRToYCrCb)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(ycrcb, gocv.NewScalar(0, 135, 85, 0), gocv.NewScalar(255, 180, 135, 0), &mask)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(5, 5))
	defer kernel.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(mask, &eroded, kernel)

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(eroded, &dilated, kernel)
	gocv.Dilate(dilated, &mask, kernel)

	pv := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer pv.Close()

	out := make([]Contour, 0, pv.Size())
	for i := 0; i < pv.Size(); i++ {
		c := pv.At(i)
		out = append(out, Contour{Area: gocv.ContourArea(c), Box: gocv.BoundingRect(c)})
	}
	return out
}

// SkinCandidates keeps plausible face-shaped contours and accepts each one
// only if it overlaps no more than 20% of the smaller area with any prior
// candidate or earlier accepted contour.
func SkinCandidates(contours []Contour, prior []region.Candidate) []region.Candidate {
	var kept []region.Candidate
	for _, c := range contours {
		if !(c.Area > 800) {
			continue
		}
		w, h := c.Box.Dx(), c.Box.Dy()
		if h <= 0 {
			continue
		}
		ratio := float64(w) / float64(h)
		if 0.2 < ratio && ratio < 5 && w > 25 && h > 25 {
			kept = append(kept, region.New(region.FromImage(c.Box), region.Skin))
		}
	}
	return skinMerger.Accepted(prior, kept)
}
