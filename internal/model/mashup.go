package model

import "time"

// MashupRequest is a validated request to generate one mashup.
// Upper bounds on count and clip length come from pipeline config and are
// enforced by the submit handler.
type MashupRequest struct {
	Query       string `json:"query" validate:"required,min=1,max=200"`
	Count       int    `json:"count" validate:"required,min=1"`
	ClipSeconds int    `json:"clipSeconds" validate:"required,min=1"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// SourceLocator identifies one remote media item discovered by search.
// Rank is the zero-based search position; output clip order follows it.
type SourceLocator struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Rank  int    `json:"rank"`
}

// AudioTrack is a downloaded, decoded audio file on local disk.
type AudioTrack struct {
	Path     string
	Duration time.Duration
	Source   SourceLocator
}

// Clip is an AudioTrack bounded to its leading duration.
type Clip struct {
	Path     string
	Duration time.Duration
	Source   SourceLocator
}

// SourceFailure records one locator that could not produce a clip.
type SourceFailure struct {
	Rank   int    `json:"rank"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// DeliveryStatus describes how the finished archive reached the requester.
type DeliveryStatus string

const (
	// DeliveryPushed means the email went out and the pull link is live.
	DeliveryPushed DeliveryStatus = "delivered"
	// DeliveryPushFailed means email sending failed but the pull link is live.
	DeliveryPushFailed DeliveryStatus = "delivered_push_failed"
	// DeliveryPullOnly means no recipient was given; pull link only.
	DeliveryPullOnly DeliveryStatus = "delivered_pull_only"
)

// DeliveryReceipt is the dispatcher's per-channel outcome for one archive.
type DeliveryReceipt struct {
	Token     string         `json:"token"`
	PullURL   string         `json:"pullUrl"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Status    DeliveryStatus `json:"status"`
	PushError string         `json:"pushError,omitempty"`
}

// MashupResult is the final result of a successful mashup job.
type MashupResult struct {
	Token           string          `json:"token"`
	PullURL         string          `json:"pullUrl"`
	DisplayName     string          `json:"displayName"`
	Delivery        DeliveryStatus  `json:"delivery"`
	PushError       string          `json:"pushError,omitempty"`
	ClipCount       int             `json:"clipCount"`
	DurationSeconds float64         `json:"durationSeconds"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	Failures        []SourceFailure `json:"failures,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// MashupSubmitResponse is returned when a job is accepted.
type MashupSubmitResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// MashupStatusResponse reports job progress.
type MashupStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
