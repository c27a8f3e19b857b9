package proc

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Track is a resolved, playable media item. Values are immutable after
// resolution except for LocalPath, which is attached once caching succeeds.
type Track struct {
	StreamURL string
	Title     string
	Channel   string
	Duration  time.Duration // <= 0 means live/unknown
	Thumbnail string
	VideoID   string
	PageURL   string
	LocalPath string
}

// IsLive reports whether the track has no known finite duration.
func (t *Track) IsLive() bool {
	return t.Duration <= 0
}

// Source returns the best playable input: the cached local file when present,
// otherwise the direct stream URL.
func (t *Track) Source() string {
	if t.LocalPath != "" {
		return t.LocalPath
	}
	return t.StreamURL
}

// PlaylistEntry is a flat playlist item before full resolution.
type PlaylistEntry struct {
	VideoID string
	Title   string
	URL     string
}

// Candidate is a lightweight recommendation/search hit from the catalog.
type Candidate struct {
	VideoID string
	Title   string
	Artist  string
}

// NextOutcome distinguishes why PlayNext did or did not start a track, so
// callers can tell exhaustion, connection loss and acquisition failure apart
// instead of getting a bare nil.
type NextOutcome int

const (
	OutcomePlayed NextOutcome = iota
	OutcomeExhausted
	OutcomeNotConnected
	OutcomeFailed
)

func (o NextOutcome) String() string {
	switch o {
	case OutcomePlayed:
		return "played"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeNotConnected:
		return "not connected"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("NextOutcome(%d)", int(o))
}

var videoIDRegex = regexp.MustCompile(`(?:\?|&)v=([^&]+)`)

// extractVideoID pulls the 11-character video ID out of a watch URL.
func extractVideoID(u string) string {
	if m := videoIDRegex.FindStringSubmatch(u); len(m) == 2 {
		return m[1]
	}
	return ""
}

// validStreamURL reports whether s is a well-formed absolute network URL that
// the sink can hand to ffmpeg with reconnect options.
func validStreamURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FormatTrackDuration renders a duration for queue/now-playing views.
// Non-positive durations render as LIVE.
func FormatTrackDuration(d time.Duration) string {
	if d <= 0 {
		return "LIVE"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
