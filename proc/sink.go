package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"

	"github.com/yuigahama/hibiki/sys"
)

// ErrStopped is passed to the completion callback when playback was cut short
// deliberately (skip or stop) rather than by reaching end of stream.
var ErrStopped = errors.New("playback stopped")

// Sink plays audio sources into a voice channel. Exactly one source plays at a
// time; starting a new one kills the previous. The completion callback fires
// once per Play, whether the source finished, failed, or was stopped.
type Sink interface {
	Play(source string, volume int, onDone func(err error)) error
	PlayOverlay(ctx context.Context, path string) error
	Stop()
	Pause() bool
	Resume() bool
	IsPaused() bool
	Connected() bool
	Close(ctx context.Context)
}

// discordSink transcodes sources through ffmpeg and feeds the Opus frames to a
// disgo voice connection.
type discordSink struct {
	mu       sync.Mutex
	conn     voice.Conn
	cmd      *exec.Cmd
	provider *StreamProvider
	stopped  bool // current playback was cut deliberately
	open     bool
}

func newDiscordSink(conn voice.Conn) *discordSink {
	return &discordSink{conn: conn, open: true}
}

func ffmpegArgs(input string, volume int) []string {
	args := []string{
		"-i", input,
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-analyzeduration", "0",
		"-probesize", "32",
	}
	if volume > 0 && volume != 100 {
		args = append(args, "-filter:a", fmt.Sprintf("volume=%.2f", float64(volume)/100))
	}
	args = append(args, "-f", "opus", "pipe:1")

	if strings.HasPrefix(input, "http") {
		args = append([]string{
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-user_agent", "Mozilla/5.0",
			"-fflags", "nobuffer",
			"-flags", "low_delay",
		}, args...)
	}
	return args
}

func (s *discordSink) Play(source string, volume int, onDone func(err error)) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return errors.New("sink closed")
	}
	s.killLocked()

	cmd := exec.Command("ffmpeg", ffmpegArgs(source, volume)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	provider := NewStreamProvider(stdout)
	done := make(chan struct{})
	provider.OnFinish = func() { close(done) }

	s.cmd = cmd
	s.provider = provider
	s.stopped = false
	conn := s.conn
	s.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			sys.LogDebug("ffmpeg: %s", scanner.Text())
		}
	}()

	conn.SetOpusFrameProvider(provider)
	_ = conn.SetSpeaking(context.TODO(), voice.SpeakingFlagMicrophone)

	go func() {
		<-done
		// Drain trailing frames before teardown.
		time.Sleep(100 * time.Millisecond)

		s.mu.Lock()
		deliberate := s.stopped
		if s.cmd == cmd {
			s.killLocked()
			s.conn.SetOpusFrameProvider(nil)
			_ = s.conn.SetSpeaking(context.TODO(), 0)
		}
		s.mu.Unlock()

		if onDone != nil {
			if deliberate {
				onDone(ErrStopped)
			} else {
				onDone(nil)
			}
		}
	}()
	return nil
}

// PlayOverlay interrupts music with a one-shot local file (sound effect, TTS)
// and hands the connection back when it finishes. Music pause state is the
// caller's concern.
func (s *discordSink) PlayOverlay(ctx context.Context, path string) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return errors.New("sink closed")
	}
	musicProvider := s.provider
	conn := s.conn
	s.mu.Unlock()

	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(path, 100)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	overlay := NewStreamProvider(stdout)
	done := make(chan struct{})
	overlay.OnFinish = func() { close(done) }

	conn.SetOpusFrameProvider(overlay)
	_ = conn.SetSpeaking(context.TODO(), voice.SpeakingFlagMicrophone)

	select {
	case <-done:
		time.Sleep(100 * time.Millisecond)
	case <-ctx.Done():
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()

	s.mu.Lock()
	if s.open {
		if musicProvider != nil && s.provider == musicProvider {
			conn.SetOpusFrameProvider(musicProvider)
		} else {
			conn.SetOpusFrameProvider(nil)
			_ = conn.SetSpeaking(context.TODO(), 0)
		}
	}
	s.mu.Unlock()
	return nil
}

// Stop kills current playback. The completion callback still fires, with
// ErrStopped.
func (s *discordSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return
	}
	s.stopped = true
	s.killLocked()
}

// killLocked terminates the ffmpeg process; the monitor goroutine observes the
// closed pipe and finishes. Caller holds s.mu.
func (s *discordSink) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		cmd := s.cmd
		go func() { _ = cmd.Wait() }()
	}
	s.cmd = nil
}

func (s *discordSink) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil || s.provider.Paused() {
		return false
	}
	s.provider.SetPaused(true)
	return true
}

func (s *discordSink) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil || !s.provider.Paused() {
		return false
	}
	s.provider.SetPaused(false)
	return true
}

func (s *discordSink) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider != nil && s.provider.Paused()
}

func (s *discordSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *discordSink) Close(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.killLocked()
	s.open = false
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.SetOpusFrameProvider(nil)
		conn.Close(ctx)
	}
}
