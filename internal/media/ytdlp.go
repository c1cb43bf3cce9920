// Package media wraps the yt-dlp and ffmpeg binaries behind the pipeline's
// resolver, fetcher and audio-processing contracts.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/trackmash/api/internal/config"
	"github.com/trackmash/api/internal/model"
)

// YtDlp resolves search queries to video IDs and downloads single items as
// mp3 using the local yt-dlp binary.
type YtDlp struct {
	binary string
	probe  *FFmpeg
}

// NewYtDlp creates a downloader around the configured binary paths.
func NewYtDlp(cfg *config.MediaConfig, probe *FFmpeg) *YtDlp {
	return &YtDlp{
		binary: cfg.YtDlpPath,
		probe:  probe,
	}
}

// Resolve runs a flat ytsearch and returns up to limit locators in search
// rank order. Fewer results than requested is not an error; zero is left to
// the caller to classify.
func (y *YtDlp) Resolve(ctx context.Context, query string, limit int) ([]model.SourceLocator, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, y.binary,
		"--flat-playlist",
		"--print", "%(id)s\t%(title)s",
		"--no-warnings",
		searchSpec(query, limit),
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp search failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseSearchOutput(out.String(), limit), nil
}

// Fetch downloads one locator into destDir as a 192kbps mp3 and probes its
// natural duration.
func (y *YtDlp) Fetch(ctx context.Context, loc model.SourceLocator, destDir string) (model.AudioTrack, error) {
	base := fmt.Sprintf("%03d-%s", loc.Rank, loc.ID)
	outTemplate := filepath.Join(destDir, base+".%(ext)s")

	cmd := exec.CommandContext(ctx, y.binary,
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "192K",
		"--no-playlist",
		"--no-warnings",
		"-o", outTemplate,
		"https://www.youtube.com/watch?v="+loc.ID,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return model.AudioTrack{}, fmt.Errorf("yt-dlp download failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	path := filepath.Join(destDir, base+".mp3")
	duration, err := y.probe.Duration(ctx, path)
	if err != nil {
		return model.AudioTrack{}, fmt.Errorf("probe downloaded audio: %w", err)
	}

	return model.AudioTrack{
		Path:     path,
		Duration: duration,
		Source:   loc,
	}, nil
}

// searchSpec builds the yt-dlp ytsearch target for a query.
func searchSpec(query string, limit int) string {
	return fmt.Sprintf("ytsearch%d:%s official song", limit, strings.TrimSpace(query))
}

// parseSearchOutput turns "--print id\ttitle" lines into ranked locators.
func parseSearchOutput(out string, limit int) []model.SourceLocator {
	var locators []model.SourceLocator
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, title, _ := strings.Cut(line, "\t")
		if id == "" {
			continue
		}
		locators = append(locators, model.SourceLocator{
			ID:    id,
			Title: title,
			Rank:  len(locators),
		})
		if len(locators) == limit {
			break
		}
	}
	return locators
}
