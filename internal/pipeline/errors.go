package pipeline

import "errors"

// Terminal pipeline errors. Each maps to a short, actionable message for the
// requester; anything wrapped around them stays in the logs.
var (
	// ErrResolution: the search produced no usable sources.
	ErrResolution = errors.New("no sources found")
	// ErrNoUsableSources: every resolved source failed to download.
	ErrNoUsableSources = errors.New("no source could be downloaded")
	// ErrNoClips: assembly was reached with zero clips. Unreachable while the
	// fetch stage enforces its at-least-one invariant.
	ErrNoClips = errors.New("no clips to assemble")
	// ErrPackaging: the merged track could not be archived or registered.
	ErrPackaging = errors.New("packaging failed")
)

// UserMessage maps a terminal job error to the message surfaced to the
// requester. Internal detail never passes through here.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrResolution):
		return "No results for that query. Try a different search."
	case errors.Is(err, ErrNoUsableSources):
		return "None of the matched sources could be downloaded. Try a different query or fewer clips."
	case errors.Is(err, ErrNoClips):
		return "No clips could be produced. Try a different query."
	default:
		return "Mashup generation failed. Please try again."
	}
}
