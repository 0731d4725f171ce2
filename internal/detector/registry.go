package detector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ivlev/faceblur/internal/config"
	"github.com/ivlev/faceblur/internal/region"
	"github.com/sirupsen/logrus"
)

// warned keeps load warnings to one per artifact per process, however many
// workers build their own set.
var warned sync.Map

func warnOnce(log logrus.FieldLogger, key string, err error, msg string) {
	if _, dup := warned.LoadOrStore(key, true); !dup {
		log.WithError(err).Warn(msg)
	}
}

// NewGenerator builds one generator by kind. Unavailable artifacts degrade
// the generator to an empty one instead of failing.
func NewGenerator(kind region.Provenance, cfg config.DetectConfig, log logrus.FieldLogger) (Generator, error) {
	switch kind {
	case region.Neural:
		g := &NeuralGenerator{Threshold: cfg.Confidence, Timeout: cfg.CallTimeout, Log: log}
		prototxt, model := cfg.ModelPaths()
		net, err := LoadCaffe(prototxt, model)
		if err != nil {
			warnOnce(log, model, err, "neural detector disabled")
			return g, nil
		}
		g.Net = net
		return g, nil
	case region.Cascade:
		var dirs []string
		if cfg.CascadeDir != "" {
			dirs = []string{cfg.CascadeDir}
		}
		classifiers := make(map[string]CascadePrimitive, len(cfg.Cascades))
		for _, name := range cfg.Cascades {
			cls, err := LoadHaar(name, dirs)
			if err != nil {
				warnOnce(log, name, err, "cascade classifier skipped")
				continue
			}
			classifiers[name] = cls
		}
		return &CascadeGenerator{
			Classifiers: classifiers,
			Grid:        Grid(cfg.Cascades, cfg.Scales, cfg.Neighbors),
			Timeout:     cfg.CallTimeout,
			Log:         log,
		}, nil
	case region.Skin:
		return &SkinGenerator{Timeout: cfg.CallTimeout, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown generator kind: %s", kind)
	}
}

// NewSet builds the generators one worker needs. Skin is left nil when
// disabled.
func NewSet(cfg config.DetectConfig, log logrus.FieldLogger) (*Set, error) {
	set := &Set{}
	var err error
	if set.Neural, err = NewGenerator(region.Neural, cfg, log); err != nil {
		return nil, err
	}
	if set.Cascade, err = NewGenerator(region.Cascade, cfg, log); err != nil {
		return nil, errors.Join(err, set.Close())
	}
	if cfg.Skin {
		if set.Skin, err = NewGenerator(region.Skin, cfg, log); err != nil {
			return nil, errors.Join(err, set.Close())
		}
	}
	return set, nil
}
