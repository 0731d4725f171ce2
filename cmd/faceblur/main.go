package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ivlev/faceblur/internal/config"
	"github.com/ivlev/faceblur/internal/engine"
	"github.com/ivlev/faceblur/internal/ledger"
	"github.com/ivlev/faceblur/internal/output"
	"github.com/ivlev/faceblur/internal/report"
	"github.com/ivlev/faceblur/internal/source"
	"github.com/ivlev/faceblur/pkg/log"
	"github.com/sirupsen/logrus"
)

// BuildVersion is set with -ldflags "-X main.BuildVersion=...".
var BuildVersion = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[-] faceblur: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPtr := flag.String("config", "", "YAML config file (optional)")
	envPtr := flag.String("env", ".env", "dotenv file with FACEBLUR_* overrides")
	modePtr := flag.String("mode", "", "inplace: overwrite images and track them; export: write blurred_<name> copies")
	inputPtr := flag.String("input", "", "Directory with <id>.<ext> images")
	outputPtr := flag.String("output", "", "Export directory (export mode)")
	ledgerPtr := flag.String("ledger", "", "Ledger file (default <input>/blurred_images.txt)")
	scanPtr := flag.String("scan", "", "range: check ids 1..max-id; glob: every image in the directory")
	workersPtr := flag.Int("workers", 0, "Parallel images (0 = from CPU and memory)")
	reportPtr := flag.String("report", "", "Write a run report (.yaml or .json; a directory gets a timestamped file)")
	debugPtr := flag.String("debug-dir", "", "Write detection overlays as PNG into this directory")
	levelPtr := flag.String("log-level", "", "trace, debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(*envPtr); err != nil {
		return err
	}
	cfg.BuildVersion = BuildVersion

	// Флаги применяются последними и только если заданы явно
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *modePtr
		case "input":
			cfg.InputDir = *inputPtr
		case "output":
			cfg.Export.Dir = *outputPtr
		case "ledger":
			cfg.Ledger.Path = *ledgerPtr
		case "scan":
			cfg.Scan = *scanPtr
		case "workers":
			cfg.Workers = *workersPtr
		case "report":
			cfg.Report = *reportPtr
		case "debug-dir":
			cfg.DebugDir = *debugPtr
		case "log-level":
			cfg.Log.Level = *levelPtr
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := log.New(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.WithFields(logrus.Fields{"build": cfg.BuildVersion, "mode": cfg.Mode, "input": cfg.InputDir}).Info("faceblur starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(cfg)
	if err != nil {
		return err
	}

	out, err := openOutput(cfg)
	if err != nil {
		return err
	}

	var led *ledger.Ledger
	if out.Tracked() {
		store, closeStore, err := openLedgerStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		if led, err = ledger.Open(ctx, store); err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		logger.WithField("entries", len(led.IDs())).Info("ledger loaded")
	}

	project := engine.NewBatchProject(cfg, src, out, led, logger)
	rep, runErr := project.Run(ctx)

	if rep != nil && cfg.Report != "" {
		path := report.ResolvePath(cfg.Report)
		if err := report.Write(rep, path); err != nil {
			logger.WithError(err).Error("report not written")
		} else {
			logger.WithField("path", path).Info("report written")
		}
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("interrupted, finished images were recorded")
		return nil
	}
	return runErr
}

func openSource(cfg *config.Config) (source.Source, error) {
	if cfg.Scan == config.ScanGlob {
		return source.NewGlobSource(cfg.InputDir, cfg.Extensions)
	}
	return source.NewRangeSource(cfg.InputDir, cfg.Extensions, cfg.MaxID)
}

func openOutput(cfg *config.Config) (output.Strategy, error) {
	if cfg.Mode == config.ModeInPlace {
		return &output.InPlace{Quality: cfg.Quality}, nil
	}

	var sink output.Sink = &output.DirSink{Dir: cfg.Export.Dir}
	if cfg.Export.Sink == "s3" {
		s3, err := output.NewS3Sink(output.S3Options{
			Bucket:           cfg.Export.S3Bucket,
			Prefix:           cfg.Export.S3Prefix,
			Region:           cfg.Export.S3Region,
			UploadsPerSecond: cfg.Export.UploadsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		sink = s3
	}
	return &output.Export{Sink: sink, Prefix: cfg.Export.Prefix, Quality: cfg.Quality}, nil
}

func openLedgerStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	if cfg.Ledger.Backend != "redis" {
		return ledger.NewFileStore(cfg.LedgerPath()), func() {}, nil
	}
	rs, err := ledger.NewRedisStore(ctx, ledger.RedisOptions{
		Addr:     cfg.Ledger.RedisAddr,
		Password: cfg.Ledger.RedisPassword,
		DB:       cfg.Ledger.RedisDB,
		Key:      cfg.Ledger.RedisKey,
	})
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { rs.Close() }, nil
}
