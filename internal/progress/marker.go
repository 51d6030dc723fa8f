// Package progress parses the structured markers in pipeline output and
// decides which lines reach the job log.
//
// Marker grammar:
//
//	[<index>/<total>] <title>      track header, outcome "downloading"
//	... saltado | skip ...          per-track outcome "skipped"
//	error: ... | ... error ...      per-track outcome "error"
//
// Everything else is free-form diagnostic text.
package progress

import (
	"regexp"
	"strconv"
	"strings"
)

type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeDownloading Outcome = "downloading"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeError       Outcome = "error"
)

var reTrack = regexp.MustCompile(`^\[(\d+)/(\d+)\]\s+(.+)$`)

// Event is what a single output line says about job progress.
type Event struct {
	Track   bool
	Index   int
	Total   int
	Title   string
	Outcome Outcome
	// BotCheck is set when the video platform asked for an anti-bot confirmation.
	BotCheck bool
}

func (e Event) Empty() bool {
	return !e.Track && e.Outcome == OutcomeNone && !e.BotCheck
}

// Parse inspects one line of pipeline output.
func Parse(line string) Event {
	s := strings.TrimSpace(line)

	if m := reTrack.FindStringSubmatch(s); m != nil {
		idx, errI := strconv.Atoi(m[1])
		total, errT := strconv.Atoi(m[2])
		if errI == nil && errT == nil {
			return Event{
				Track:   true,
				Index:   idx,
				Total:   total,
				Title:   m[3],
				Outcome: OutcomeDownloading,
			}
		}
	}

	var ev Event
	low := strings.ToLower(s)
	switch {
	case strings.Contains(low, "saltado") || strings.Contains(low, "skip"):
		ev.Outcome = OutcomeSkipped
	case strings.HasPrefix(low, "error:") || strings.Contains(low, " error"):
		ev.Outcome = OutcomeError
	}
	if strings.Contains(low, "confirm you’re not a bot") || strings.Contains(low, "confirm you're not a bot") {
		ev.BotCheck = true
	}
	return ev
}

// IsTrackMarker reports whether line is a track header.
func IsTrackMarker(line string) bool {
	return reTrack.MatchString(strings.TrimSpace(line))
}

// Percent is floor((index-1)/total*100) while running and 100 once finished.
func Percent(index, total int, finished bool) int {
	if finished {
		return 100
	}
	if total <= 0 || index <= 0 {
		return 0
	}
	return (index - 1) * 100 / total
}
