package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/legacy"
	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/notifier"
	"github.com/noah-isme/score-tracker/internal/parser"
	"github.com/noah-isme/score-tracker/internal/portal"
	"github.com/noah-isme/score-tracker/internal/repository"
	"github.com/noah-isme/score-tracker/internal/service"
	"github.com/noah-isme/score-tracker/pkg/cache"
	"github.com/noah-isme/score-tracker/pkg/config"
	"github.com/noah-isme/score-tracker/pkg/database"
	"github.com/noah-isme/score-tracker/pkg/logger"
	"github.com/noah-isme/score-tracker/pkg/storage"
)

type options struct {
	userID     string
	password   string
	year       string
	semester   string
	webhook    string
	name       string
	blobFile   string
	mode       string
	schedule   string
	dumpTokens bool
	token      bool
}

func parseFlags(cfg *config.Config) options {
	var opts options
	flag.StringVar(&opts.userID, "u", cfg.Portal.UserID, "Portal user id")
	flag.StringVar(&opts.password, "p", cfg.Portal.Password, "Portal password")
	flag.StringVar(&opts.year, "y", cfg.Portal.Year, "Academic year, e.g. 2023-2024")
	flag.StringVar(&opts.semester, "s", cfg.Portal.Semester, "Semester; empty queries the whole year")
	flag.StringVar(&opts.webhook, "w", cfg.Webhook.URL, "Webhook URL for course notifications")
	flag.StringVar(&opts.name, "n", "", "Snapshot name in legacy mode (defaults to the user id)")
	flag.StringVar(&opts.blobFile, "blob-file", "", "Read the portal payload from a file instead of FETCH_COMMAND")
	flag.StringVar(&opts.mode, "mode", cfg.Sync.Mode, "Sync mode: database or legacy")
	flag.StringVar(&opts.schedule, "schedule", cfg.Sync.Schedule, "Cron spec; empty runs once")
	flag.BoolVar(&opts.dumpTokens, "dump-tokens", false, "Print decoded payload tokens and exit")
	flag.BoolVar(&opts.token, "token", false, "Print an API access token for the user and exit")
	flag.Parse()
	return opts
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	opts := parseFlags(cfg)
	if err := run(cfg, opts, logr); err != nil {
		logr.Sugar().Errorw("score sync failed", "error", err)
		_ = logr.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.token {
		auth := service.NewAuthService(nil, logr, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
		})
		token, err := auth.IssueToken(models.TokenRequest{UserID: opts.userID})
		if err != nil {
			return err
		}
		fmt.Println(token.AccessToken)
		return nil
	}

	creds := portal.Credentials{UserID: opts.userID, Password: opts.password, Year: opts.year, Semester: opts.semester}
	if err := creds.Validate(); err != nil {
		return err
	}

	fetcher, err := newFetcher(cfg, opts, logr)
	if err != nil {
		return err
	}

	metricsSvc := service.NewMetricsService()
	courseParser := parser.New(logr, metricsSvc)
	r := &runner{mode: opts.mode, creds: creds, fetcher: fetcher, decoder: courseParser, logger: logr}

	if opts.dumpTokens {
		return r.dumpTokens(ctx, func(format string, args ...interface{}) {
			fmt.Printf(format, args...)
		})
	}

	webhook := notifier.New(opts.webhook, cfg.Webhook.Timeout, logr)
	if notifier.IsNoop(webhook) {
		logr.Warn("no webhook configured, course notifications disabled")
	}

	switch opts.mode {
	case config.SyncModeLegacy:
		files, err := storage.NewLocalStorage(cfg.Sync.LegacyDir)
		if err != nil {
			return err
		}
		name := opts.name
		if name == "" {
			name = creds.UserID
		}
		r.tracker = legacy.NewTracker(files, webhook, name, logr)
	case config.SyncModeDatabase:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}

		cacheRepo := repository.NewCacheRepository(nil)
		if cfg.Cache.Enabled {
			client, err := cache.NewRedis(ctx, cfg.Redis)
			if err != nil {
				logr.Sugar().Warnw("redis unavailable, cached listings will not be invalidated", "error", err)
			} else {
				cacheRepo = repository.NewCacheRepository(client)
			}
		}
		defer cacheRepo.Close() //nolint:errcheck
		cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

		r.sync = service.NewSyncService(repository.NewCourseRepository(db, metricsSvc), courseParser, webhook, cacheSvc, metricsSvc, nil, logr, service.SyncOptions{
			NotifyOnNew: cfg.Webhook.NotifyOnNew,
		})
	default:
		return fmt.Errorf("unsupported sync mode %q", opts.mode)
	}

	if opts.schedule == "" {
		return r.runOnce(ctx)
	}
	return schedule(ctx, opts.schedule, r, logr)
}

func newFetcher(cfg *config.Config, opts options, logr *zap.Logger) (portal.Fetcher, error) {
	if opts.blobFile != "" {
		return portal.FileFetcher{Path: opts.blobFile}, nil
	}
	if cfg.Sync.FetchCommand == "" {
		return nil, fmt.Errorf("no payload source: pass -blob-file or set FETCH_COMMAND")
	}
	return portal.NewCommandFetcher(cfg.Sync.FetchCommand, cfg.Sync.FetchTimeout, logr)
}

// schedule runs r on spec until ctx is cancelled. Overlapping runs are skipped.
func schedule(ctx context.Context, spec string, r *runner, logr *zap.Logger) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if err := r.runOnce(runCtx); err != nil {
			logr.Sugar().Errorw("scheduled sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	logr.Sugar().Infow("sync scheduler started", "schedule", spec, "mode", r.mode, "user_id", r.creds.UserID)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logr.Info("sync scheduler stopped")
	return nil
}
