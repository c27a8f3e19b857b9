package proc

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// opusSilence is the canonical Opus silence frame, sent while paused so the
// gateway keeps the stream alive without audible output.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// StreamProvider implements voice.OpusFrameProvider over an Ogg/Opus stream,
// typically ffmpeg stdout. While paused it emits silence frames and does not
// consume the underlying stream, so playback resumes exactly where it stopped.
type StreamProvider struct {
	reader    *bufio.Reader
	header    []byte
	segBuf    []byte
	packetBuf bytes.Buffer
	queue     [][]byte

	paused   atomic.Bool
	OnFinish func()
	once     sync.Once
}

func NewStreamProvider(r io.Reader) *StreamProvider {
	return &StreamProvider{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
	}
}

func (p *StreamProvider) SetPaused(paused bool) {
	p.paused.Store(paused)
}

func (p *StreamProvider) Paused() bool {
	return p.paused.Load()
}

func (p *StreamProvider) Close() {}

func (p *StreamProvider) triggerFinish() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

// ProvideOpusFrame parses the next Opus packet from the Ogg stream.
func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if p.paused.Load() {
		return opusSilence, nil
	}

	if len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue = p.queue[1:]
		return frame, nil
	}

	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			p.triggerFinish()
			return nil, err
		}

		if string(sig) != "OggS" {
			_, _ = p.reader.Discard(1)
			continue
		}
		if _, err := io.ReadFull(p.reader, p.header); err != nil {
			p.triggerFinish()
			return nil, err
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			p.triggerFinish()
			return nil, err
		}

		for _, segLen := range segTable {
			l := int(segLen)
			if _, err := io.CopyN(&p.packetBuf, p.reader, int64(l)); err != nil {
				p.triggerFinish()
				return nil, err
			}

			// A segment shorter than 255 bytes terminates the packet.
			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				// OpusHead/OpusTags are container metadata, not audio.
				if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
					continue
				}
				p.queue = append(p.queue, frame)
			}
		}

		if len(p.queue) > 0 {
			frame := p.queue[0]
			p.queue = p.queue[1:]
			return frame, nil
		}
	}
}
