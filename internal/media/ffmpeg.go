package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/trackmash/api/internal/config"
)

// FFmpeg runs the ffmpeg/ffprobe binaries for probing, trimming and
// concatenating mp3 tracks.
type FFmpeg struct {
	ffmpegBin  string
	ffprobeBin string
}

// NewFFmpeg creates a processor around the configured binary paths.
func NewFFmpeg(cfg *config.MediaConfig) *FFmpeg {
	return &FFmpeg{
		ffmpegBin:  cfg.FFmpegPath,
		ffprobeBin: cfg.FFprobePath,
	}
}

// Duration probes the natural duration of an audio file.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeDuration(out.String())
}

// Trim writes the leading limit of src to dst without re-encoding.
func (f *FFmpeg) Trim(ctx context.Context, src, dst string, limit time.Duration) error {
	cmd := exec.CommandContext(ctx, f.ffmpegBin,
		"-y",
		"-v", "error",
		"-i", src,
		"-t", formatSeconds(limit),
		"-c", "copy",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg trim failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Concat merges the given files into dst in slice order using the concat
// demuxer. All inputs share the codec produced by the fetcher, so streams
// are copied, not re-encoded.
func (f *FFmpeg) Concat(ctx context.Context, srcs []string, dst string) error {
	if len(srcs) == 0 {
		return fmt.Errorf("no input files")
	}

	listPath := filepath.Join(filepath.Dir(dst), "concat-inputs.txt")
	if err := os.WriteFile(listPath, []byte(concatList(srcs)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, f.ffmpegBin,
		"-y",
		"-v", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func parseProbeDuration(out string) (time.Duration, error) {
	val := strings.TrimSpace(out)
	seconds, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q", val)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// concatList renders the concat demuxer input file. Single quotes inside
// paths are escaped per ffmpeg's quoting rules.
func concatList(srcs []string) string {
	var b strings.Builder
	for _, src := range srcs {
		escaped := strings.ReplaceAll(src, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}
