package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trackmash/api/internal/config"
	"github.com/trackmash/api/internal/model"
)

type fakeResolver struct {
	locators []model.SourceLocator
	err      error
}

func (r *fakeResolver) Resolve(ctx context.Context, query string, limit int) ([]model.SourceLocator, error) {
	return r.locators, r.err
}

// fakeFetcher succeeds for IDs present in durations and fails otherwise.
// delays lets tests force completion order to differ from rank order.
type fakeFetcher struct {
	durations map[string]time.Duration
	delays    map[string]time.Duration

	mu       sync.Mutex
	destDirs []string
	attempts map[string]int
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc model.SourceLocator, destDir string) (model.AudioTrack, error) {
	if d := f.delays[loc.ID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return model.AudioTrack{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.destDirs = append(f.destDirs, destDir)
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[loc.ID]++
	f.mu.Unlock()

	duration, ok := f.durations[loc.ID]
	if !ok {
		return model.AudioTrack{}, errors.New("download blocked")
	}

	path := filepath.Join(destDir, loc.ID+".mp3")
	if err := os.WriteFile(path, []byte(loc.ID), 0o644); err != nil {
		return model.AudioTrack{}, err
	}
	return model.AudioTrack{Path: path, Duration: duration, Source: loc}, nil
}

type fakeAudio struct {
	mu         sync.Mutex
	concatSrcs []string
	trimErrFor string
}

func (a *fakeAudio) Trim(ctx context.Context, src, dst string, limit time.Duration) error {
	if a.trimErrFor != "" && strings.Contains(src, a.trimErrFor) {
		return errors.New("corrupt frame")
	}
	return os.WriteFile(dst, []byte("clip"), 0o644)
}

func (a *fakeAudio) Concat(ctx context.Context, srcs []string, dst string) error {
	a.mu.Lock()
	a.concatSrcs = append([]string(nil), srcs...)
	a.mu.Unlock()
	return os.WriteFile(dst, []byte("merged"), 0o644)
}

type fakeDispatcher struct {
	receipt model.DeliveryReceipt
	err     error

	called      bool
	archivePath string
	displayName string
	recipient   string
	archiveSeen bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, archivePath, displayName, recipient string) (model.DeliveryReceipt, error) {
	d.called = true
	d.archivePath = archivePath
	d.displayName = displayName
	d.recipient = recipient
	if _, err := os.Stat(archivePath); err == nil {
		d.archiveSeen = true
	}
	if d.err != nil {
		return model.DeliveryReceipt{}, d.err
	}
	return d.receipt, nil
}

func locators(ids ...string) []model.SourceLocator {
	out := make([]model.SourceLocator, len(ids))
	for i, id := range ids {
		out[i] = model.SourceLocator{ID: id, Rank: i}
	}
	return out
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		FetchConcurrency: 3,
		FetchAttempts:    1,
		SourceTimeoutSec: 5,
	}
}

func newTestOrchestrator(r Resolver, f Fetcher, a AudioProcessor, d Dispatcher) *Orchestrator {
	return NewOrchestrator(r, f, a, d, testConfig())
}

func TestRunHappyPath(t *testing.T) {
	resolver := &fakeResolver{locators: locators("a", "b", "c")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{
		"a": 200 * time.Second,
		"b": 7 * time.Second, // shorter than the clip limit
		"c": 90 * time.Second,
	}}
	audio := &fakeAudio{}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{
		Token:   "tok",
		PullURL: "http://example.com/download/tok",
		Status:  model.DeliveryPushed,
	}}

	o := newTestOrchestrator(resolver, fetcher, audio, dispatcher)
	result, err := o.Run(context.Background(), model.MashupRequest{
		Query: "Daft Punk", Count: 3, ClipSeconds: 10, Email: "fan@example.com",
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.ClipCount != 3 {
		t.Errorf("clip count = %d, want 3", result.ClipCount)
	}
	// 10 + 7 + 10: clips are min(Y, natural duration)
	if result.DurationSeconds != 27 {
		t.Errorf("duration = %.1f, want 27.0", result.DurationSeconds)
	}
	if result.Delivery != model.DeliveryPushed {
		t.Errorf("delivery = %s, want %s", result.Delivery, model.DeliveryPushed)
	}
	if result.PullURL != "http://example.com/download/tok" {
		t.Errorf("pull url = %q", result.PullURL)
	}
	if len(result.Failures) != 0 {
		t.Errorf("unexpected failures: %+v", result.Failures)
	}
	if !dispatcher.archiveSeen {
		t.Error("dispatcher did not receive an existing archive file")
	}
	if dispatcher.displayName != "daft-punk.zip" {
		t.Errorf("display name = %q, want %q", dispatcher.displayName, "daft-punk.zip")
	}
	if dispatcher.recipient != "fan@example.com" {
		t.Errorf("recipient = %q", dispatcher.recipient)
	}
}

func TestRunClipOrderFollowsRankNotCompletion(t *testing.T) {
	resolver := &fakeResolver{locators: locators("first", "second", "third")}
	fetcher := &fakeFetcher{
		durations: map[string]time.Duration{
			"first":  60 * time.Second,
			"second": 60 * time.Second,
			"third":  60 * time.Second,
		},
		// Rank 0 finishes last.
		delays: map[string]time.Duration{
			"first":  80 * time.Millisecond,
			"second": 40 * time.Millisecond,
		},
	}
	audio := &fakeAudio{}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{Status: model.DeliveryPullOnly}}

	o := newTestOrchestrator(resolver, fetcher, audio, dispatcher)
	if _, err := o.Run(context.Background(), model.MashupRequest{
		Query: "x", Count: 3, ClipSeconds: 10,
	}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(audio.concatSrcs) != 3 {
		t.Fatalf("concat got %d inputs, want 3", len(audio.concatSrcs))
	}
	for i, src := range audio.concatSrcs {
		want := fmt.Sprintf("%03d-clip.mp3", i)
		if filepath.Base(src) != want {
			t.Errorf("concat input %d = %q, want %q", i, filepath.Base(src), want)
		}
	}
}

func TestRunPartialFetchFailure(t *testing.T) {
	resolver := &fakeResolver{locators: locators("ok1", "broken", "ok2")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{
		"ok1": 60 * time.Second,
		"ok2": 60 * time.Second,
	}}
	audio := &fakeAudio{}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{Status: model.DeliveryPullOnly}}

	o := newTestOrchestrator(resolver, fetcher, audio, dispatcher)
	result, err := o.Run(context.Background(), model.MashupRequest{
		Query: "x", Count: 3, ClipSeconds: 10,
	}, nil)
	if err != nil {
		t.Fatalf("a partial failure must not fail the job: %v", err)
	}

	if result.ClipCount != 2 {
		t.Errorf("clip count = %d, want 2", result.ClipCount)
	}
	if result.DurationSeconds != 20 {
		t.Errorf("duration = %.1f, want 20.0", result.DurationSeconds)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %+v, want exactly one", result.Failures)
	}
	if result.Failures[0].ID != "broken" || result.Failures[0].Rank != 1 {
		t.Errorf("unexpected failure record: %+v", result.Failures[0])
	}
	// Surviving clips keep relative order with the gap collapsed.
	if len(audio.concatSrcs) != 2 {
		t.Fatalf("concat got %d inputs, want 2", len(audio.concatSrcs))
	}
}

func TestRunAllFetchesFail(t *testing.T) {
	resolver := &fakeResolver{locators: locators("a", "b", "c", "d", "e")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{}}
	dispatcher := &fakeDispatcher{}

	o := newTestOrchestrator(resolver, fetcher, &fakeAudio{}, dispatcher)
	_, err := o.Run(context.Background(), model.MashupRequest{
		Query: "x", Count: 5, ClipSeconds: 10,
	}, nil)

	if !errors.Is(err, ErrNoUsableSources) {
		t.Fatalf("err = %v, want ErrNoUsableSources", err)
	}
	if dispatcher.called {
		t.Error("dispatch attempted after total fetch failure")
	}
}

func TestRunResolutionFailure(t *testing.T) {
	for _, resolver := range []*fakeResolver{
		{err: errors.New("search unreachable")},
		{locators: nil},
	} {
		o := newTestOrchestrator(resolver, &fakeFetcher{}, &fakeAudio{}, &fakeDispatcher{})
		_, err := o.Run(context.Background(), model.MashupRequest{Query: "x", Count: 3, ClipSeconds: 10}, nil)
		if !errors.Is(err, ErrResolution) {
			t.Errorf("err = %v, want ErrResolution", err)
		}
	}
}

func TestRunZeroDurationTrackTreatedAsFetchFailure(t *testing.T) {
	resolver := &fakeResolver{locators: locators("silent", "ok")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{
		"silent": 0,
		"ok":     60 * time.Second,
	}}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{Status: model.DeliveryPullOnly}}

	o := newTestOrchestrator(resolver, fetcher, &fakeAudio{}, dispatcher)
	result, err := o.Run(context.Background(), model.MashupRequest{
		Query: "x", Count: 2, ClipSeconds: 10,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ClipCount != 1 {
		t.Errorf("clip count = %d, want 1", result.ClipCount)
	}
	if len(result.Failures) != 1 || result.Failures[0].ID != "silent" {
		t.Errorf("failures = %+v, want the silent source", result.Failures)
	}
}

func TestRunTrimFailureExcludesClip(t *testing.T) {
	resolver := &fakeResolver{locators: locators("good", "bad")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{
		"good": 60 * time.Second,
		"bad":  60 * time.Second,
	}}
	audio := &fakeAudio{trimErrFor: "bad"}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{Status: model.DeliveryPullOnly}}

	o := newTestOrchestrator(resolver, fetcher, audio, dispatcher)
	result, err := o.Run(context.Background(), model.MashupRequest{
		Query: "x", Count: 2, ClipSeconds: 10,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ClipCount != 1 {
		t.Errorf("clip count = %d, want 1", result.ClipCount)
	}
	if len(result.Failures) != 1 || result.Failures[0].ID != "bad" {
		t.Errorf("failures = %+v", result.Failures)
	}
}

func TestRunRetriesFetchAttempts(t *testing.T) {
	resolver := &fakeResolver{locators: locators("flaky")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{}}
	cfg := testConfig()
	cfg.FetchAttempts = 3

	o := NewOrchestrator(resolver, fetcher, &fakeAudio{}, &fakeDispatcher{}, cfg)
	_, err := o.Run(context.Background(), model.MashupRequest{Query: "x", Count: 1, ClipSeconds: 10}, nil)
	if !errors.Is(err, ErrNoUsableSources) {
		t.Fatalf("err = %v, want ErrNoUsableSources", err)
	}
	if got := fetcher.attempts["flaky"]; got != 3 {
		t.Errorf("fetch attempts = %d, want 3", got)
	}
}

func TestRunCleansUpTempFiles(t *testing.T) {
	resolver := &fakeResolver{locators: locators("a")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{"a": 60 * time.Second}}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{Status: model.DeliveryPullOnly}}

	o := newTestOrchestrator(resolver, fetcher, &fakeAudio{}, dispatcher)
	if _, err := o.Run(context.Background(), model.MashupRequest{Query: "x", Count: 1, ClipSeconds: 10}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fetcher.destDirs) == 0 {
		t.Fatal("fetcher never ran")
	}
	jobRoot := filepath.Dir(fetcher.destDirs[0])
	if _, err := os.Stat(jobRoot); !os.IsNotExist(err) {
		t.Errorf("job temp dir %s still exists after success", jobRoot)
	}
}

func TestRunCleansUpTempFilesOnFailure(t *testing.T) {
	resolver := &fakeResolver{locators: locators("a", "b")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{}}

	o := newTestOrchestrator(resolver, fetcher, &fakeAudio{}, &fakeDispatcher{})
	if _, err := o.Run(context.Background(), model.MashupRequest{Query: "x", Count: 2, ClipSeconds: 10}, nil); err == nil {
		t.Fatal("expected failure")
	}

	if len(fetcher.destDirs) == 0 {
		t.Fatal("fetcher never ran")
	}
	jobRoot := filepath.Dir(fetcher.destDirs[0])
	if _, err := os.Stat(jobRoot); !os.IsNotExist(err) {
		t.Errorf("job temp dir %s still exists after failure", jobRoot)
	}
}

func TestRunReportsProgress(t *testing.T) {
	resolver := &fakeResolver{locators: locators("a")}
	fetcher := &fakeFetcher{durations: map[string]time.Duration{"a": 60 * time.Second}}
	dispatcher := &fakeDispatcher{receipt: model.DeliveryReceipt{Status: model.DeliveryPullOnly}}

	var steps []string
	progress := func(pct int, step string) {
		steps = append(steps, step)
	}

	o := newTestOrchestrator(resolver, fetcher, &fakeAudio{}, dispatcher)
	if _, err := o.Run(context.Background(), model.MashupRequest{Query: "x", Count: 1, ClipSeconds: 10}, progress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(steps) < 5 {
		t.Errorf("got %d progress updates, want one per stage: %v", len(steps), steps)
	}
}
