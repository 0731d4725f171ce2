package engine

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/ivlev/faceblur/internal/region"
	"github.com/ivlev/faceblur/internal/system"
)

var overlayColors = map[region.Provenance][3]float64{
	region.Neural:  {0.1, 0.9, 0.2},
	region.Cascade: {0.2, 0.4, 1.0},
	region.Skin:    {1.0, 0.6, 0.0},
}

// writeOverlay saves <stem>_debug.png: every candidate stroked in its
// generator's colour over the unblurred image, final regions dashed white.
func writeOverlay(dir, name string, img image.Image, det *Detection) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	canvas := system.CopyCanvas(img)
	defer system.ReleaseCanvas(canvas)
	dc := gg.NewContextForRGBA(canvas)

	dc.SetLineWidth(3)
	for _, set := range [][]region.Candidate{det.Neural, det.Cascade, det.Skin} {
		for _, c := range set {
			rgb := overlayColors[c.Source]
			dc.SetRGB(rgb[0], rgb[1], rgb[2])
			dc.DrawRectangle(float64(c.Rect.X), float64(c.Rect.Y), float64(c.Rect.Width), float64(c.Rect.Height))
			dc.Stroke()
		}
	}

	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(1)
	dc.SetDash(6, 4)
	for i, r := range det.Regions() {
		dc.DrawRectangle(float64(r.X), float64(r.Y), float64(r.Width), float64(r.Height))
		dc.Stroke()
		dc.DrawString(fmt.Sprintf("%d", i+1), float64(r.X+4), float64(r.Y+14))
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	path := filepath.Join(dir, stem+"_debug.png")
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("save overlay: %w", err)
	}
	return path, nil
}
