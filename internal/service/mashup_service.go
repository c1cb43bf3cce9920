package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/trackmash/api/internal/model"
	"github.com/trackmash/api/internal/pipeline"
	"github.com/trackmash/api/internal/websocket"
)

const (
	TaskTypeMashup = "mashup:generate"
)

// Execution modes for accepted jobs
const (
	ModeInline     = "inline"
	ModeBackground = "background"
	ModeQueue      = "queue"
)

// Runner executes one mashup job end to end.
type Runner interface {
	Run(ctx context.Context, req model.MashupRequest, progress pipeline.ProgressFunc) (*model.MashupResult, error)
}

// MashupService manages mashup job records and schedules pipeline runs
type MashupService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	runner      Runner
	hub         *websocket.Hub
	mode        string
}

func NewMashupService(redisClient *redis.Client, asynqClient *asynq.Client, runner Runner, hub *websocket.Hub, mode string) *MashupService {
	return &MashupService{
		redis:       redisClient,
		asynqClient: asynqClient,
		runner:      runner,
		hub:         hub,
		mode:        mode,
	}
}

// Submit accepts a validated request and schedules it according to the
// configured execution mode. The pipeline itself is identical in all three.
func (s *MashupService) Submit(ctx context.Context, req *model.MashupRequest) (*model.MashupSubmitResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeMashup,
		Status:    model.JobStatusQueued,
		Progress:  0,
		Payload:   payloadBytes,
		CreatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	switch s.mode {
	case ModeQueue:
		task, err := newMashupTask(jobID, payloadBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create task: %w", err)
		}
		_, err = s.asynqClient.Enqueue(task,
			asynq.Queue("mashup"),
			asynq.MaxRetry(1),
			asynq.Retention(24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue task: %w", err)
		}
	case ModeBackground:
		// Detach from the request lifetime; the job record carries the outcome.
		go s.RunJob(context.Background(), jobID, *req)
	default:
		s.RunJob(ctx, jobID, *req)
	}

	return &model.MashupSubmitResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// RunJob executes the pipeline for a saved job, recording progress and the
// terminal outcome. Used directly in inline/background modes and by the
// queue worker.
func (s *MashupService) RunJob(ctx context.Context, jobID string, req model.MashupRequest) error {
	log.Printf("[JOB %s] starting mashup for query %q (n=%d, y=%ds)", jobID, req.Query, req.Count, req.ClipSeconds)

	progress := func(pct int, step string) {
		if err := s.UpdateJobProgress(ctx, jobID, pct, step); err != nil {
			log.Printf("[JOB %s] failed to update progress: %v", jobID, err)
		}
		s.hub.BroadcastProgress(jobID, pct, model.JobStatusRunning, step)
	}

	result, err := s.runner.Run(ctx, req, progress)
	if err != nil {
		log.Printf("[JOB %s] failed: %v", jobID, err)
		s.failJob(ctx, jobID, pipeline.UserMessage(err))
		return err
	}

	if err := s.CompleteJob(ctx, jobID, result); err != nil {
		log.Printf("[JOB %s] failed to save result: %v", jobID, err)
		s.failJob(ctx, jobID, "Mashup generation failed. Please try again.")
		return err
	}

	s.hub.BroadcastComplete(jobID, result)
	log.Printf("[JOB %s] completed: %d clips, %.1fs, delivery=%s", jobID, result.ClipCount, result.DurationSeconds, result.Delivery)
	return nil
}

// GetStatus returns the current status of a mashup job
func (s *MashupService) GetStatus(ctx context.Context, jobID string) (*model.MashupStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.MashupStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the result of a completed mashup job
func (s *MashupService) GetResult(ctx context.Context, jobID string) (*model.MashupResult, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.MashupResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// UpdateJobProgress updates job progress while the pipeline runs
func (s *MashupService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob marks a job as succeeded with its result
func (s *MashupService) CompleteJob(ctx context.Context, jobID string, result *model.MashupResult) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.CurrentStep = ""
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks a job as failed with a user-facing message
func (s *MashupService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// Sentinel errors surfaced to handlers
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

func (s *MashupService) failJob(ctx context.Context, jobID, errMsg string) {
	if err := s.FailJob(ctx, jobID, errMsg); err != nil {
		log.Printf("[JOB %s] failed to mark job as failed: %v", jobID, err)
	}
	s.hub.BroadcastError(jobID, "MASHUP_FAILED", errMsg)
}

func (s *MashupService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (s *MashupService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func newMashupTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": payload,
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeMashup, data), nil
}
