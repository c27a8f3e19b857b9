package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"golang.org/x/time/rate"

	"github.com/yuigahama/hibiki/sys"
)

// Resolver turns URLs, video IDs and free-text queries into playable Tracks.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
	ResolvePlaylist(ctx context.Context, url string) ([]PlaylistEntry, error)
	Search(ctx context.Context, text string) (*Track, error)
}

// Catalog serves search autocomplete and the similar-tracks feed that drives
// autoplay.
type Catalog interface {
	SearchTracks(ctx context.Context, text string, limit int) ([]Candidate, error)
	Similar(ctx context.Context, videoID string, limit int) ([]Candidate, error)
}

var (
	// ErrNotFound means the backend produced no usable result.
	ErrNotFound = errors.New("track not found")
	// ErrNeedsRuntime means yt-dlp needs a JS runtime it cannot find. Callers
	// treat it as a resolution failure, but it is surfaced distinctly so the
	// operator can tell a deployment problem from a dead link.
	ErrNeedsRuntime = errors.New("yt-dlp requires a JavaScript runtime (install node or deno)")
)

var (
	cachedJSArgs []string
	jsOnce       sync.Once
)

// YtdlpResolver resolves tracks through yt-dlp, with a library fast path for
// plain YouTube URLs. Process spawns are rate limited so a burst of playlist
// resolutions cannot fork-bomb the host.
type YtdlpResolver struct {
	limiter *rate.Limiter
	yt      youtube.Client
}

func NewYtdlpResolver() *YtdlpResolver {
	return &YtdlpResolver{
		limiter: rate.NewLimiter(rate.Every(300*time.Millisecond), 4),
	}
}

func newYtdlp() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}
	return cmd
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "10",
	)
	return args
}

func isYouTubeURL(u string) bool {
	return strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be")
}

func classifyYtdlpErr(err error, stderr string) error {
	msg := err.Error() + " " + stderr
	if strings.Contains(msg, "JavaScript") || strings.Contains(msg, "nsig") {
		return ErrNeedsRuntime
	}
	return err
}

// Resolve accepts a watch URL, a bare 11-character video ID, or free text.
func (r *YtdlpResolver) Resolve(ctx context.Context, query string) (*Track, error) {
	if len(query) == 11 && !strings.HasPrefix(query, "http") && !strings.Contains(query, " ") {
		query = "https://www.youtube.com/watch?v=" + query
	}
	if !strings.HasPrefix(query, "http") {
		return r.Search(ctx, query)
	}

	query = strings.Replace(query, "music.youtube.com", "www.youtube.com", 1)

	if isYouTubeURL(query) {
		if t, err := r.resolveNative(ctx, query); err == nil {
			return t, nil
		}
	}
	return r.resolveYtdlp(ctx, query)
}

// resolveNative extracts the stream URL with the Go YouTube client, skipping a
// yt-dlp process entirely for the common case.
func (r *YtdlpResolver) resolveNative(ctx context.Context, u string) (*Track, error) {
	video, err := r.yt.GetVideoContext(ctx, u)
	if err != nil {
		return nil, err
	}

	formats := video.Formats.WithAudioChannels().Type("audio")

	var best *youtube.Format
	// ITAG 251 (Opus 160kbps) first
	for i, f := range formats {
		if f.ItagNo == 251 {
			best = &formats[i]
			break
		}
	}
	if best == nil {
		for i, f := range formats {
			if strings.Contains(f.MimeType, "opus") {
				best = &formats[i]
				break
			}
		}
	}
	if best == nil && len(formats) > 0 {
		formats.Sort()
		best = &formats[0]
	}
	if best == nil {
		return nil, ErrNotFound
	}

	streamURL, err := r.yt.GetStreamURLContext(ctx, video, best)
	if err != nil {
		return nil, err
	}

	thumb := ""
	if len(video.Thumbnails) > 0 {
		thumb = video.Thumbnails[len(video.Thumbnails)-1].URL
	}

	return &Track{
		StreamURL: streamURL,
		Title:     video.Title,
		Channel:   video.Author,
		Duration:  video.Duration,
		Thumbnail: thumb,
		VideoID:   video.ID,
		PageURL:   "https://www.youtube.com/watch?v=" + video.ID,
	}, nil
}

func (r *YtdlpResolver) resolveYtdlp(ctx context.Context, u string) (*Track, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := newYtdlp()
	args := buildYtdlpArgs()
	args = append(args, "-f", "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best")
	res, err := cmd.
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(id)s\t%(thumbnail)s\t%(webpage_url)s").
		NoPlaylist().
		IgnoreConfig().
		Run(ctx, append(args, "--skip-download", u)...)

	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		sys.LogVoice("yt-dlp resolve failed for %s: %v", u, err)
		return nil, classifyYtdlpErr(err, stderr)
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 7 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		return &Track{
			StreamURL: ps[0],
			Title:     ps[1],
			Channel:   ps[2],
			Duration:  d,
			VideoID:   ps[4],
			Thumbnail: ps[5],
			PageURL:   ps[6],
		}, nil
	}
	return nil, ErrNotFound
}

// ResolvePlaylist expands a playlist URL into flat entries without resolving
// stream URLs.
func (r *YtdlpResolver) ResolvePlaylist(ctx context.Context, u string) ([]PlaylistEntry, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := newYtdlp()
	args := buildYtdlpArgs()
	res, err := cmd.
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(url)s").
		PlaylistItems("1-100").
		IgnoreConfig().
		Run(ctx, append(args, "--yes-playlist", u)...)

	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return nil, classifyYtdlpErr(err, stderr)
	}

	var entries []PlaylistEntry
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		entries = append(entries, PlaylistEntry{
			VideoID: ps[0],
			Title:   ps[1],
			URL:     "https://www.youtube.com/watch?v=" + ps[0],
		})
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// Search finds the best matching track for free text. YouTube Music results
// are preferred; plain YouTube search is the fallback.
func (r *YtdlpResolver) Search(ctx context.Context, text string) (*Track, error) {
	if s, err := ytmusic.TrackSearch(text).Next(); err == nil {
		for _, t := range s.Tracks {
			if t.VideoID == "" {
				continue
			}
			return r.Resolve(ctx, "https://www.youtube.com/watch?v="+t.VideoID)
		}
	}

	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, text)
	if err != nil {
		return nil, err
	}
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		return r.Resolve(ctx, "https://www.youtube.com/watch?v="+v.VideoID)
	}
	return nil, ErrNotFound
}

// SearchTracks serves autocomplete: cheap metadata-only hits, no resolution.
func (r *YtdlpResolver) SearchTracks(ctx context.Context, text string, limit int) ([]Candidate, error) {
	if len([]rune(text)) < 2 {
		return nil, nil
	}

	out := make([]Candidate, 0, limit)
	seen := make(map[string]bool)

	if s, err := ytmusic.TrackSearch(text).Next(); err == nil {
		for _, t := range s.Tracks {
			if t.VideoID == "" || seen[t.VideoID] {
				continue
			}
			artist := ""
			if len(t.Artists) > 0 {
				artist = t.Artists[0].Name
			}
			seen[t.VideoID] = true
			out = append(out, Candidate{VideoID: t.VideoID, Title: t.Title, Artist: artist})
			if len(out) >= limit {
				return out, nil
			}
		}
	}

	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, text)
	if err != nil {
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
	for _, v := range res.Results {
		if v.VideoID == "" || seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		out = append(out, Candidate{VideoID: v.VideoID, Title: v.Title})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Similar returns the YouTube mix ("RD") playlist for a video, which is the
// closest thing the backend exposes to a related-tracks feed. The YTM variant
// is tried first since it sticks to music.
func (r *YtdlpResolver) Similar(ctx context.Context, videoID string, limit int) ([]Candidate, error) {
	type mixResult struct {
		cands []Candidate
		prio  int
	}

	mixes := []struct {
		url  string
		prio int
	}{
		{"https://music.youtube.com/watch?v=" + videoID + "&list=RDAMVM" + videoID, 0},
		{"https://www.youtube.com/watch?v=" + videoID + "&list=RD" + videoID, 1},
	}

	ch := make(chan mixResult, len(mixes))
	for _, m := range mixes {
		go func(u string, prio int) {
			cands, err := r.fetchMix(ctx, u, limit)
			if err != nil {
				sys.LogAutoplay("Mix fetch failed for %s: %v", videoID, err)
			}
			ch <- mixResult{cands, prio}
		}(m.url, m.prio)
	}

	ordered := make([][]Candidate, len(mixes))
	for range mixes {
		r := <-ch
		ordered[r.prio] = r.cands
	}

	var out []Candidate
	seen := map[string]bool{videoID: true}
	for _, cands := range ordered {
		for _, c := range cands {
			if seen[c.VideoID] {
				continue
			}
			seen[c.VideoID] = true
			out = append(out, c)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (r *YtdlpResolver) fetchMix(ctx context.Context, mixURL string, limit int) ([]Candidate, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cmd := newYtdlp()
	args := buildYtdlpArgs()
	res, err := cmd.
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit+5)).
		IgnoreConfig().
		Run(ctx, append(args, mixURL)...)

	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return nil, classifyYtdlpErr(err, stderr)
	}

	var cands []Candidate
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		cands = append(cands, Candidate{VideoID: ps[0], Title: ps[1], Artist: ps[2]})
	}
	return cands, nil
}
