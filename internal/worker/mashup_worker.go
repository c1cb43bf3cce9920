package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/trackmash/api/internal/model"
	"github.com/trackmash/api/internal/pipeline"
	"github.com/trackmash/api/internal/service"
)

// MashupWorker consumes queued mashup tasks
type MashupWorker struct {
	mashupService *service.MashupService
}

// NewMashupWorker creates a new mashup worker
func NewMashupWorker(mashupService *service.MashupService) *MashupWorker {
	return &MashupWorker{
		mashupService: mashupService,
	}
}

// ProcessTask handles one queued mashup job
func (w *MashupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	var req model.MashupRequest
	if err := json.Unmarshal(taskPayload.Payload, &req); err != nil {
		if ferr := w.mashupService.FailJob(ctx, taskPayload.JobID, "Invalid request payload"); ferr != nil {
			log.Printf("[JOB %s] failed to mark job as failed: %v", taskPayload.JobID, ferr)
		}
		return fmt.Errorf("failed to unmarshal mashup request: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.mashupService.RunJob(ctx, taskPayload.JobID, req); err != nil {
		// Terminal pipeline outcomes are not worth retrying; the requester
		// resubmits with a different query instead.
		if isTerminal(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func isTerminal(err error) bool {
	return errors.Is(err, pipeline.ErrResolution) ||
		errors.Is(err, pipeline.ErrNoUsableSources) ||
		errors.Is(err, pipeline.ErrNoClips) ||
		errors.Is(err, pipeline.ErrPackaging)
}
