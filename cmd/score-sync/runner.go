package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/legacy"
	"github.com/noah-isme/score-tracker/internal/models"
	"github.com/noah-isme/score-tracker/internal/portal"
	"github.com/noah-isme/score-tracker/internal/service"
	"github.com/noah-isme/score-tracker/pkg/config"
)

type decoder interface {
	Tokens(blob string) ([]string, error)
	Parse(blob, userID string) []models.Course
}

type syncRunner interface {
	Run(ctx context.Context, req service.SyncRequest) (*service.SyncResult, error)
}

type snapshotTracker interface {
	Run(ctx context.Context, courses []models.Course) (*legacy.Report, error)
}

// runner performs one fetch, decode and reconcile cycle.
type runner struct {
	mode    string
	creds   portal.Credentials
	fetcher portal.Fetcher
	decoder decoder
	sync    syncRunner
	tracker snapshotTracker
	logger  *zap.Logger
}

func (r *runner) fetch(ctx context.Context) (string, error) {
	blob, err := r.fetcher.Fetch(ctx, r.creds)
	if err != nil {
		return "", fmt.Errorf("fetch scores for %s: %w", r.creds.UserID, err)
	}
	return blob, nil
}

func (r *runner) runOnce(ctx context.Context) error {
	blob, err := r.fetch(ctx)
	if err != nil {
		return err
	}

	switch r.mode {
	case config.SyncModeLegacy:
		courses := r.decoder.Parse(blob, r.creds.UserID)
		report, err := r.tracker.Run(ctx, courses)
		if err != nil {
			return fmt.Errorf("legacy snapshot run: %w", err)
		}
		r.logger.Info("snapshot run finished",
			zap.String("snapshot", report.SnapshotFile),
			zap.Int("courses", len(courses)),
			zap.Int("diff_lines", len(report.Diff)),
			zap.Int("created", len(report.Created)),
			zap.Int("updated", len(report.Updated)),
			zap.Int("notified", report.Notified),
			zap.Int("failed", report.Failed))
		return nil
	default:
		result, err := r.sync.Run(ctx, service.SyncRequest{UserID: r.creds.UserID, Blob: blob})
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			r.logger.Warn("some courses were not committed and will be retried on the next run", zap.Int("failed", result.Failed))
		}
		return nil
	}
}

// dumpTokens writes every decoded cell token with its index, for diagnosing layout drift.
func (r *runner) dumpTokens(ctx context.Context, print func(format string, args ...interface{})) error {
	blob, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	tokens, err := r.decoder.Tokens(blob)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	for i, tok := range tokens {
		print("%4d %s\n", i, tok)
	}
	return nil
}
