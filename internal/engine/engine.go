package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ivlev/faceblur/internal/config"
	"github.com/ivlev/faceblur/internal/detector"
	"github.com/ivlev/faceblur/internal/effects"
	"github.com/ivlev/faceblur/internal/ledger"
	"github.com/ivlev/faceblur/internal/output"
	"github.com/ivlev/faceblur/internal/region"
	"github.com/ivlev/faceblur/internal/report"
	"github.com/ivlev/faceblur/internal/source"
	"github.com/ivlev/faceblur/internal/system"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrLedgerFlush wraps a failed final ledger write.
var ErrLedgerFlush = errors.New("ledger write failed")

type BatchProject struct {
	Config *config.Config
	Source source.Source
	Output output.Strategy
	Ledger *ledger.Ledger // required when Output is tracked
	Effect effects.Effect
	Log    logrus.FieldLogger

	// NewSet builds one worker's generators.
	NewSet func() (*detector.Set, error)
	// Frames overrides frame construction; nil means detector.NewFrame.
	Frames func(image.Image) (*detector.Frame, error)
}

func NewBatchProject(cfg *config.Config, src source.Source, out output.Strategy, led *ledger.Ledger, log logrus.FieldLogger) *BatchProject {
	return &BatchProject{
		Config: cfg,
		Source: src,
		Output: out,
		Ledger: led,
		Effect: &effects.DefaultEffect{},
		Log:    log,
		NewSet: func() (*detector.Set, error) {
			return detector.NewSet(cfg.Detect, log)
		},
	}
}

// Run processes every pending image and, for tracked output, writes the
// ledger once at the end. Finished images are credited even when ctx is
// cancelled midway. When nothing is pending no file is touched.
func (p *BatchProject) Run(ctx context.Context) (*report.Report, error) {
	tracked := p.Output.Tracked()
	if tracked && p.Ledger == nil {
		return nil, errors.New("tracked output needs a ledger")
	}

	rec := report.NewCollector(p.Output.Name())
	log := p.Log.WithField("run_id", rec.RunID())

	items := p.Source.Items()
	var pending []source.Item
	for _, item := range items {
		if tracked && p.Ledger.Has(item.ID) {
			rec.Add(report.ImageResult{ID: item.ID, Name: item.Name, Status: report.Already})
			continue
		}
		pending = append(pending, item)
	}

	log.WithFields(logrus.Fields{
		"mode":    p.Output.Name(),
		"found":   len(items),
		"pending": len(pending),
	}).Info("batch started")

	if len(pending) == 0 {
		log.Info("no new images to process")
		return rec.Build(), nil
	}

	workers := p.Config.Workers
	if workers <= 0 {
		workers = system.DefaultWorkers()
	}
	workers = min(workers, len(pending))
	if mem, err := system.MemorySnapshot(); err == nil {
		log.WithFields(logrus.Fields{
			"workers":      workers,
			"mem_avail_mb": mem.AvailableMB,
			"mem_used_pct": fmt.Sprintf("%.1f", mem.UsedPercent),
		}).Debug("worker pool sized")
	}

	jobs := make(chan source.Item)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, item := range pending {
			if gctx.Err() != nil {
				return nil
			}
			select {
			case jobs <- item:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			set, err := p.NewSet()
			if err != nil {
				return fmt.Errorf("build detectors: %w", err)
			}
			defer set.Close()

			pl := &Pipeline{
				Set:      set,
				Effect:   p.Effect,
				DebugDir: p.Config.DebugDir,
				Frames:   p.Frames,
				Log:      log,
			}
			for item := range jobs {
				rec.Add(p.processOne(gctx, pl, item, log))
			}
			return nil
		})
	}

	runErr := g.Wait()

	if tracked {
		if err := p.Ledger.Flush(context.WithoutCancel(ctx)); err != nil {
			return rec.Build(), fmt.Errorf("%w: %v", ErrLedgerFlush, err)
		}
	}

	r := rec.Build()
	log.WithFields(logrus.Fields{
		"processed": r.Summary.Processed,
		"failed":    r.Summary.Failed,
		"regions":   r.Summary.Regions,
		"seconds":   fmt.Sprintf("%.2f", r.Seconds),
	}).Info("batch finished")

	if runErr != nil {
		return r, runErr
	}
	return r, ctx.Err()
}

func (p *BatchProject) processOne(ctx context.Context, pl *Pipeline, item source.Item, log logrus.FieldLogger) report.ImageResult {
	start := time.Now()
	res := report.ImageResult{ID: item.ID, Name: item.Name, Status: report.Failed}
	log = log.WithFields(logrus.Fields{"image": item.Name, "id": item.ID})

	fail := func(stage string, err error) report.ImageResult {
		log.WithError(err).Errorf("%s failed, image skipped", stage)
		res.Error = fmt.Sprintf("%s: %v", stage, err)
		res.Millis = time.Since(start).Milliseconds()
		return res
	}

	img, err := p.Source.Load(item)
	if err != nil {
		return fail("load", err)
	}

	det, err := pl.Process(ctx, item.Name, img)
	if err != nil {
		return fail("detect", err)
	}
	res.Neural = region.Count(det.Neural, region.Neural)
	res.Cascade = region.Count(det.Cascade, region.Cascade)
	res.Skin = region.Count(det.Skin, region.Skin)
	res.Regions = det.Regions()

	loc, err := p.Output.Write(ctx, item, img)
	if err != nil {
		return fail("write", err)
	}
	res.Output = loc
	res.Status = report.Processed
	res.Millis = time.Since(start).Milliseconds()

	if p.Output.Tracked() {
		p.Ledger.Mark(item.ID)
		if p.Config.Ledger.Checkpoint {
			if err := p.Ledger.Flush(ctx); err != nil {
				log.WithError(err).Warn("ledger checkpoint failed")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"regions": len(res.Regions),
		"applied": det.Applied,
		"neural":  res.Neural,
		"cascade": res.Cascade,
		"skin":    res.Skin,
		"ms":      res.Millis,
	}).Info("image processed")
	return res
}
