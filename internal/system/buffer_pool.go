package system

import (
	"image"
	"image/draw"
	"sync"
)

// CanvasPool переиспользует *image.RGBA одинакового размера, чтобы
// отладочные наложения не нагружали GC на больших пакетах.
type CanvasPool struct {
	mu    sync.RWMutex
	pools map[image.Point]*sync.Pool
}

var canvases = &CanvasPool{pools: make(map[image.Point]*sync.Pool)}

// CopyCanvas returns a pooled RGBA canvas holding a copy of src, anchored at
// the origin.
func CopyCanvas(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := canvases.Get(b.Size())
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return dst
}

// ReleaseCanvas hands a canvas back to the pool.
func ReleaseCanvas(img *image.RGBA) {
	canvases.Put(img)
}

func (p *CanvasPool) Get(size image.Point) *image.RGBA {
	p.mu.RLock()
	pool, ok := p.pools[size]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		if pool, ok = p.pools[size]; !ok {
			pool = &sync.Pool{New: func() any {
				return image.NewRGBA(image.Rectangle{Max: size})
			}}
			p.pools[size] = pool
		}
		p.mu.Unlock()
	}
	return pool.Get().(*image.RGBA)
}

// Put drops canvases of a size the pool never handed out.
func (p *CanvasPool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, ok := p.pools[img.Rect.Size()]
	p.mu.RUnlock()
	if ok {
		pool.Put(img)
	}
}
