package report

import (
	"sort"
	"sync"
	"time"

	"github.com/ivlev/faceblur/internal/region"
	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/stat"
)

type Status string

const (
	Processed Status = "processed"
	Already   Status = "already_processed"
	Failed    Status = "failed"
)

// Report is the record of one batch run.
type Report struct {
	Version   string        `yaml:"version" json:"version"`
	RunID     string        `yaml:"run_id" json:"run_id"`
	Mode      string        `yaml:"mode" json:"mode"`
	StartedAt time.Time     `yaml:"started_at" json:"started_at"`
	Seconds   float64       `yaml:"duration_seconds" json:"duration_seconds"`
	Summary   Summary       `yaml:"summary" json:"summary"`
	Images    []ImageResult `yaml:"images" json:"images"`
}

type Summary struct {
	Total        int     `yaml:"total" json:"total"`
	Processed    int     `yaml:"processed" json:"processed"`
	Already      int     `yaml:"already_processed" json:"already_processed"`
	Failed       int     `yaml:"failed" json:"failed"`
	Regions      int     `yaml:"regions" json:"regions"`
	RegionsMean  float64 `yaml:"regions_mean" json:"regions_mean"`
	RegionsStdev float64 `yaml:"regions_stddev" json:"regions_stddev"`
}

// ImageResult describes what happened to one image.
type ImageResult struct {
	ID      int           `yaml:"id" json:"id"`
	Name    string        `yaml:"name" json:"name"`
	Status  Status        `yaml:"status" json:"status"`
	Output  string        `yaml:"output,omitempty" json:"output,omitempty"`
	Neural  int           `yaml:"neural" json:"neural"`
	Cascade int           `yaml:"cascade" json:"cascade"`
	Skin    int           `yaml:"skin" json:"skin"`
	Regions []region.Rect `yaml:"regions,omitempty" json:"regions,omitempty"`
	Millis  int64         `yaml:"duration_ms" json:"duration_ms"`
	Error   string        `yaml:"error,omitempty" json:"error,omitempty"`
}

// Collector gathers results from concurrent workers.
type Collector struct {
	mu      sync.Mutex
	runID   string
	mode    string
	started time.Time
	images  []ImageResult
}

func NewCollector(mode string) *Collector {
	return &Collector{runID: ulid.Make().String(), mode: mode, started: time.Now()}
}

func (c *Collector) RunID() string { return c.runID }

func (c *Collector) Add(r ImageResult) {
	c.mu.Lock()
	c.images = append(c.images, r)
	c.mu.Unlock()
}

// Build sorts results by id, then name, and computes the summary. Region
// statistics cover processed images only.
func (c *Collector) Build() *Report {
	c.mu.Lock()
	images := append([]ImageResult(nil), c.images...)
	c.mu.Unlock()

	sort.SliceStable(images, func(i, j int) bool {
		if images[i].ID != images[j].ID {
			return images[i].ID < images[j].ID
		}
		return images[i].Name < images[j].Name
	})

	s := Summary{Total: len(images)}
	var counts []float64
	for _, img := range images {
		switch img.Status {
		case Processed:
			s.Processed++
			s.Regions += len(img.Regions)
			counts = append(counts, float64(len(img.Regions)))
		case Already:
			s.Already++
		case Failed:
			s.Failed++
		}
	}
	switch len(counts) {
	case 0:
	case 1:
		s.RegionsMean = counts[0]
	default:
		s.RegionsMean, s.RegionsStdev = stat.MeanStdDev(counts, nil)
	}

	return &Report{
		Version:   "1.0",
		RunID:     c.runID,
		Mode:      c.mode,
		StartedAt: c.started,
		Seconds:   time.Since(c.started).Seconds(),
		Summary:   s,
		Images:    images,
	}
}
