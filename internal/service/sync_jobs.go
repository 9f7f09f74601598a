package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/dto"
	appErrors "github.com/noah-isme/score-tracker/pkg/errors"
	"github.com/noah-isme/score-tracker/pkg/jobs"
)

// SyncJobType labels queued sync runs.
const SyncJobType = "sync"

type syncQueue interface {
	Enqueue(job jobs.Job) error
	Status(id string) (jobs.Status, error)
}

// AttachQueue enables asynchronous runs through Enqueue.
func (s *SyncService) AttachQueue(q syncQueue) {
	s.queue = q
}

// Enqueue validates the request and queues it, returning the job id.
func (s *SyncService) Enqueue(req SyncRequest) (*dto.SyncAccepted, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "sync queue not configured")
	}
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	req.Blob = compactBlob(req.Blob)

	job := jobs.Job{ID: uuid.NewString(), Type: SyncJobType, Owner: req.UserID, Payload: req}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to queue sync run", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "sync queue is busy")
	}
	s.logger.Info("sync run queued", zap.String("user_id", req.UserID), zap.String("job_id", job.ID))
	return &dto.SyncAccepted{JobID: job.ID, State: string(jobs.StateQueued)}, nil
}

// JobStatus reports a queued run. Jobs owned by another user are reported as missing.
func (s *SyncService) JobStatus(jobID, userID string) (*dto.SyncStatusResponse, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "sync queue not configured")
	}
	status, err := s.queue.Status(jobID)
	if err != nil || status.Owner != userID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "sync job not found")
	}
	return &dto.SyncStatusResponse{
		JobID:      status.ID,
		State:      string(status.State),
		Attempt:    status.Attempt,
		Error:      status.Error,
		Result:     status.Result,
		EnqueuedAt: status.EnqueuedAt,
		FinishedAt: status.FinishedAt,
	}, nil
}

// HandleJob is the queue handler for sync runs. Per-course failures are part of the result;
// only a cancelled run is reported as a job error.
func (s *SyncService) HandleJob(ctx context.Context, job jobs.Job) (interface{}, error) {
	req, ok := job.Payload.(SyncRequest)
	if !ok {
		return nil, fmt.Errorf("sync job %s: unexpected payload %T", job.ID, job.Payload)
	}
	result, err := s.Run(ctx, req)
	if err != nil {
		s.logger.Error("sync job aborted", zap.String("job_id", job.ID), zap.Error(err))
		return nil, err
	}
	return result, nil
}
