// Command export writes change records as NDJSON, either the history of one
// entity or the most recent records, to stdout, a file, or the archive bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datachange/internal/changetrack/export"
	"datachange/internal/changetrack/models"
	"datachange/internal/changetrack/service"
	recordstore "datachange/internal/changetrack/store"
	"datachange/internal/platform/config"
	"datachange/internal/platform/logger"
)

type options struct {
	entityType string
	entityID   string
	limit      int
	out        string
	upload     bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringVar(&opts.entityType, "entity-type", "", "entity type to export (requires -entity-id)")
	fs.StringVar(&opts.entityID, "entity-id", "", "entity id to export (requires -entity-type)")
	fs.IntVar(&opts.limit, "limit", 1000, "maximum number of records, 0 for all")
	fs.StringVar(&opts.out, "out", "-", "output file, - for stdout")
	fs.BoolVar(&opts.upload, "upload", false, "upload to the configured export bucket instead of writing locally")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if (opts.entityType == "") != (opts.entityID == "") {
		return opts, errors.New("-entity-type and -entity-id must be given together")
	}
	if opts.limit < 0 {
		return opts, errors.New("-limit must not be negative")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so stdout carries only the export.
	log := logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("export failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *slog.Logger) error {
	store, closeStore, err := recordstore.Open(ctx, cfg, log)
	defer closeStore()
	if err != nil {
		return err
	}
	svc, err := service.New(store, service.DefaultConfig(), service.WithLogger(log))
	if err != nil {
		return err
	}

	records, err := load(ctx, svc, opts)
	if err != nil {
		return err
	}

	if opts.upload {
		if !cfg.Export.Enabled() {
			return errors.New("no export bucket configured")
		}
		uploader, err := export.NewUploader(
			export.NewS3Client(export.S3Config{
				Bucket:          cfg.Export.Bucket,
				Region:          cfg.Export.Region,
				Endpoint:        cfg.Export.Endpoint,
				AccessKeyID:     cfg.Export.AccessKeyID,
				SecretAccessKey: cfg.Export.SecretAccessKey,
			}),
			cfg.Export.Bucket,
			export.WithPrefix(cfg.Export.Prefix),
			export.WithLogger(log),
		)
		if err != nil {
			return err
		}
		_, err = uploader.Upload(ctx, export.ObjectKey(subject(opts), time.Now()), records)
		return err
	}

	return writeLocal(ctx, opts.out, records)
}

func load(ctx context.Context, svc *service.Service, opts options) ([]*models.Record, error) {
	if opts.entityType != "" {
		return svc.ListByEntity(ctx, opts.entityType, opts.entityID, opts.limit)
	}
	return svc.ListRecent(ctx, opts.limit)
}

func subject(opts options) string {
	if opts.entityType != "" {
		return opts.entityType + "-" + opts.entityID
	}
	return "recent"
}

func writeLocal(ctx context.Context, out string, records []*models.Record) error {
	var w io.Writer = os.Stdout
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	return export.Export(ctx, w, records)
}
