package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-splitter/config"
	"github.com/feichai0017/document-splitter/internal/agent"
	"github.com/feichai0017/document-splitter/internal/service/document"
	"github.com/feichai0017/document-splitter/internal/utils/validator"
	"github.com/feichai0017/document-splitter/pkg/lock"
	"github.com/feichai0017/document-splitter/pkg/logger"
	"github.com/feichai0017/document-splitter/pkg/status"
	"github.com/feichai0017/document-splitter/pkg/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()

	configPath, ov := parseFlags(os.Args[1:])
	cfg, err := config.Load(configPath, ov)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	runID := uuid.NewString()

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths([]string{"stdout", logger.RunLogPath(cfg.Paths.Log, start)}),
		logger.WithInitialField("run_id", runID),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Document splitter starting",
		logger.String("source", cfg.Paths.Source),
		logger.String("mode", cfg.Mode),
		logger.Int("workers", cfg.Workers),
		logger.Bool("ocr", cfg.OCR.Enabled()),
	)

	processors, err := agent.NewProcessorFactory(cfg, log).Build(ctx)
	if err != nil {
		log.Error("Failed to build processors", logger.Error(err))
		return 1
	}
	defer processors.Close()

	opts := []document.Option{
		document.WithInspector(processors.Inspector),
		document.WithValidator(validator.NewDocumentValidator(log.Named("validator"), nil)),
	}

	mirror, err := storage.NewStorage(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		log.Error("Failed to create storage mirror", logger.Error(err))
		return 1
	}
	if mirror != nil {
		if err := storage.Prune(ctx, mirror, cfg.Storage.RetentionDuration(), start, log.Named("storage")); err != nil {
			log.Warn("Failed to prune storage mirror", logger.Error(err))
		}
		opts = append(opts, document.WithMirror(mirror))
	}

	if cfg.Status.RedisAddr != "" {
		store, err := status.NewRedisStore(ctx, cfg.Status.RedisAddr, cfg.Status.RedisDB, cfg.Status.TTLDuration())
		if err != nil {
			log.Error("Failed to connect status store", logger.Error(err))
			return 1
		}
		defer store.Close()
		opts = append(opts, document.WithStatusStore(store, runID))
	}

	locker := lock.New(runID, log.Named("lock"), lock.WithStaleTTL(cfg.Lock.StaleTTLDuration()))

	// 创建文档服务
	svc := document.NewService(document.ServiceConfig{
		TempDir:   cfg.Paths.Temp,
		ImageDir:  cfg.Paths.Image,
		OutputDir: cfg.Paths.Output,
		BackupDir: cfg.Paths.Backup,
	}, locker, processors.Splitter, processors.Rasterizer, processors.Classifier, log, opts...)

	manager := document.NewManager(document.ManagerConfig{
		SourceDir: cfg.Paths.Source,
		ReportDir: cfg.Paths.Log,
		Mode:      cfg.RunMode(),
		Workers:   cfg.Workers,
		RunStart:  start,
	}, svc, runID, log)

	if _, err := manager.Run(ctx); err != nil {
		log.Error("Run aborted", logger.Error(err))
		return 1
	}
	if ctx.Err() != nil {
		log.Warn("Run interrupted, remaining documents left for the next run")
	}
	return 0
}

// parseFlags registers each option under its short and long name.
func parseFlags(args []string) (string, config.Overrides) {
	fs := flag.NewFlagSet("splitter", flag.ExitOnError)

	var configPath string
	var ov config.Overrides
	fs.StringVar(&configPath, "config", "", "path to a YAML config file")
	both := func(p *string, short, long, usage string) {
		fs.StringVar(p, short, "", usage)
		fs.StringVar(p, long, "", usage+" (shorthand -"+short+")")
	}
	both(&ov.Source, "s", "source", "directory with source documents")
	both(&ov.Destination, "d", "destination", "output directory for routed units")
	both(&ov.Backup, "b", "backup", "backup directory")
	both(&ov.Log, "l", "log", "log directory")
	both(&ov.Temp, "t", "temp", "scratch directory for split units")
	both(&ov.Image, "i", "image", "scratch directory for raster images")
	both(&ov.Mode, "m", "mode", "single or multi")
	both(&ov.Workers, "p", "processes", "worker count for multi mode")
	both(&ov.Prefixes, "f", "prefixes", "comma-separated OCR prefixes")
	both(&ov.Ratio, "r", "ratio", "fraction of the page top used for OCR")

	fs.Parse(args)
	return configPath, ov
}
