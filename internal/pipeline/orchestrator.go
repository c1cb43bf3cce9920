// Package pipeline turns one accepted mashup request into one delivered
// archive: resolve, fetch, trim, assemble, package, cache, dispatch. The
// whole run is a function of the request with no implicit execution context,
// so callers may run it inline, on a goroutine, or from a queue worker.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/trackmash/api/internal/archive"
	"github.com/trackmash/api/internal/config"
	"github.com/trackmash/api/internal/model"
)

// Resolver turns a query and a count into ranked source locators.
type Resolver interface {
	Resolve(ctx context.Context, query string, limit int) ([]model.SourceLocator, error)
}

// Fetcher retrieves one locator as a decoded local audio track.
type Fetcher interface {
	Fetch(ctx context.Context, loc model.SourceLocator, destDir string) (model.AudioTrack, error)
}

// AudioProcessor trims and concatenates local audio files.
type AudioProcessor interface {
	Trim(ctx context.Context, src, dst string, limit time.Duration) error
	Concat(ctx context.Context, srcs []string, dst string) error
}

// Dispatcher registers the archive for pull delivery and optionally pushes
// it by email.
type Dispatcher interface {
	Dispatch(ctx context.Context, archivePath, displayName, recipient string) (model.DeliveryReceipt, error)
}

// ProgressFunc receives stage transitions as the job advances.
type ProgressFunc func(progress int, step string)

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	resolver   Resolver
	fetcher    Fetcher
	audio      AudioProcessor
	dispatcher Dispatcher
	cfg        config.PipelineConfig
}

// NewOrchestrator creates a pipeline from its collaborators.
func NewOrchestrator(resolver Resolver, fetcher Fetcher, audio AudioProcessor, dispatcher Dispatcher, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		resolver:   resolver,
		fetcher:    fetcher,
		audio:      audio,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

type fetchOutcome struct {
	track model.AudioTrack
	err   error
}

// Run executes one job. Job-scoped temporary files are removed on every exit
// path; only the cached archive copy outlives the call. The returned result
// always carries a live pull URL, even when push delivery failed.
func (o *Orchestrator) Run(ctx context.Context, req model.MashupRequest, progress ProgressFunc) (*model.MashupResult, error) {
	report := func(pct int, step string) {
		if progress != nil {
			progress(pct, step)
		}
	}

	tempRoot, err := os.MkdirTemp("", "mashup-*")
	if err != nil {
		return nil, fmt.Errorf("create job workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempRoot); err != nil {
			log.Printf("cleanup %s: %v", tempRoot, err)
		}
	}()

	downloads := filepath.Join(tempRoot, "downloads")
	trims := filepath.Join(tempRoot, "trims")
	for _, dir := range []string{downloads, trims} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job workspace: %w", err)
		}
	}

	// Resolve
	report(5, "Searching sources...")
	locators, err := o.resolver.Resolve(ctx, req.Query, req.Count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}
	if len(locators) == 0 {
		return nil, ErrResolution
	}

	// Fetch, fan-out per locator
	report(15, "Downloading sources...")
	tracks, failures := o.fetchAll(ctx, locators, downloads)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, ErrNoUsableSources
	}

	// Trim
	report(55, "Trimming clips...")
	clipLimit := time.Duration(req.ClipSeconds) * time.Second
	var clips []model.Clip
	for _, track := range tracks {
		clip, err := o.trim(ctx, track, trims, clipLimit)
		if err != nil {
			// A track that cannot be trimmed is excluded like a fetch failure.
			failures = append(failures, model.SourceFailure{
				Rank:   track.Source.Rank,
				ID:     track.Source.ID,
				Reason: truncateReason(err.Error()),
			})
			log.Printf("trim %s: %v", track.Source.ID, err)
			continue
		}
		clips = append(clips, clip)
	}
	if len(clips) == 0 {
		return nil, ErrNoClips
	}

	// Assemble in rank order
	report(70, "Assembling mashup...")
	merged := filepath.Join(tempRoot, "mashup.mp3")
	paths := make([]string, len(clips))
	var total time.Duration
	for i, clip := range clips {
		paths[i] = clip.Path
		total += clip.Duration
	}
	if err := o.audio.Concat(ctx, paths, merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}

	// Package
	report(85, "Packaging archive...")
	baseName := archive.SanitizeName(req.Query)
	archivePath := filepath.Join(tempRoot, baseName+".zip")
	if err := archive.BuildZip(merged, archivePath, baseName+".mp3"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}

	// Cache and dispatch
	report(95, "Delivering...")
	displayName := baseName + ".zip"
	receipt, err := o.dispatcher.Dispatch(ctx, archivePath, displayName, req.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}

	return &model.MashupResult{
		Token:           receipt.Token,
		PullURL:         receipt.PullURL,
		DisplayName:     displayName,
		Delivery:        receipt.Status,
		PushError:       receipt.PushError,
		ClipCount:       len(clips),
		DurationSeconds: total.Seconds(),
		ExpiresAt:       receipt.ExpiresAt,
		Failures:        failures,
		CreatedAt:       time.Now(),
	}, nil
}

// fetchAll downloads every locator with bounded concurrency. Failures are
// isolated per locator; successes come back in rank order.
func (o *Orchestrator) fetchAll(ctx context.Context, locators []model.SourceLocator, destDir string) ([]model.AudioTrack, []model.SourceFailure) {
	outcomes := make([]fetchOutcome, len(locators))

	concurrency := o.cfg.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for i, loc := range locators {
		wg.Add(1)
		go func(i int, loc model.SourceLocator) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = o.fetchOne(ctx, loc, destDir)
		}(i, loc)
	}
	wg.Wait()

	var tracks []model.AudioTrack
	var failures []model.SourceFailure
	for i, outcome := range outcomes {
		if outcome.err != nil {
			failures = append(failures, model.SourceFailure{
				Rank:   locators[i].Rank,
				ID:     locators[i].ID,
				Reason: truncateReason(outcome.err.Error()),
			})
			log.Printf("fetch %s (rank %d): %v", locators[i].ID, locators[i].Rank, outcome.err)
			continue
		}
		tracks = append(tracks, outcome.track)
	}
	return tracks, failures
}

// fetchOne retries a single locator up to the configured attempt count, each
// attempt under its own deadline. A track with no audible content is a
// failure, not a zero-length clip.
func (o *Orchestrator) fetchOne(ctx context.Context, loc model.SourceLocator, destDir string) fetchOutcome {
	attempts := o.cfg.FetchAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := o.cfg.SourceTimeout()
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fetchOutcome{err: err}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		track, err := o.fetcher.Fetch(attemptCtx, loc, destDir)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if track.Duration <= 0 {
			lastErr = fmt.Errorf("source has no usable audio")
			continue
		}
		return fetchOutcome{track: track}
	}
	return fetchOutcome{err: lastErr}
}

// trim produces the leading min(limit, duration) clip of a track.
func (o *Orchestrator) trim(ctx context.Context, track model.AudioTrack, destDir string, limit time.Duration) (model.Clip, error) {
	clipDuration := limit
	if track.Duration < limit {
		clipDuration = track.Duration
	}

	dst := filepath.Join(destDir, fmt.Sprintf("%03d-clip.mp3", track.Source.Rank))
	if err := o.audio.Trim(ctx, track.Path, dst, clipDuration); err != nil {
		return model.Clip{}, err
	}

	return model.Clip{
		Path:     dst,
		Duration: clipDuration,
		Source:   track.Source,
	}, nil
}

const maxReasonLen = 200

// truncateReason keeps stored diagnostics short; full detail goes to logs.
func truncateReason(reason string) string {
	if len(reason) > maxReasonLen {
		return reason[:maxReasonLen]
	}
	return reason
}
