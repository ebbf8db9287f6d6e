// Package detector recognizes anti-bot interstitials that are served with a
// 200 status, so the fetcher can report them as blocks.
package detector

import (
	"bytes"
	"strings"
)

// DefaultBodyLengthThreshold bounds the size of a page that can be judged a
// challenge on script density alone.
const DefaultBodyLengthThreshold = 16 * 1024

// Heuristic implements a handful of rule-based challenge checks.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Markers that only appear on interstitial pages.
var challengeMarkers = [][]byte{
	[]byte("<title>just a moment...</title>"),
	[]byte("attention required! | cloudflare"),
	[]byte("cf-browser-verification"),
	[]byte("cf-chl-"),
}

// Normal pages also load this path, so it only counts on small pages.
var challengeScript = []byte("challenge-platform")

// IsChallenge reports whether body looks like a bot check rather than content.
func (h *Heuristic) IsChallenge(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return len(body) < h.BodyLengthThreshold &&
		bytes.Contains(lower, challengeScript) &&
		scriptDensityHigh(string(lower))
}

func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag: the rest of the document counts.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
