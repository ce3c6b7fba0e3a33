package codec

import (
	"iter"
	"time"

	"github.com/harunnryd/voxline/pkg/frames"
)

// DefaultFrameDuration is the carrier's media packet length.
const DefaultFrameDuration = 20 * time.Millisecond

// ChunkConfig controls how a buffer is split into frames.
type ChunkConfig struct {
	StreamID      string
	Format        frames.Format
	FrameDuration time.Duration
	StartSeq      uint64
	StartOffset   time.Duration
	Meta          map[string]string
}

// FrameSize returns the byte length of one frame of the given format.
func FrameSize(format frames.Format, d time.Duration) int {
	if d <= 0 {
		d = DefaultFrameDuration
	}
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	return int(int64(format.Rate) * int64(format.Encoding.BytesPerSample()*channels) * d.Milliseconds() / 1000)
}

// Frames is a finite, restartable sequence of frames cut from one buffer.
type Frames struct {
	buf  []byte
	size int
	cfg  ChunkConfig
}

// Chunk splits buf into fixed-duration frames. The last frame may be shorter;
// concatenating every frame's payload reproduces buf exactly.
func Chunk(buf []byte, cfg ChunkConfig) Frames {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	size := FrameSize(cfg.Format, cfg.FrameDuration)
	if size <= 0 {
		size = len(buf)
	}
	return Frames{buf: buf, size: size, cfg: cfg}
}

// Len is ceil(len(buf) / frameSize).
func (f Frames) Len() int {
	if len(f.buf) == 0 || f.size == 0 {
		return 0
	}
	return (len(f.buf) + f.size - 1) / f.size
}

// All yields the frames in order. Each call starts from the first frame.
func (f Frames) All() iter.Seq[frames.AudioFrame] {
	return func(yield func(frames.AudioFrame) bool) {
		seq := f.cfg.StartSeq
		offset := f.cfg.StartOffset
		for start := 0; start < len(f.buf); start += f.size {
			end := min(start+f.size, len(f.buf))
			payload := append([]byte(nil), f.buf[start:end]...)
			af := frames.NewAudioFrame(f.cfg.StreamID, seq, offset, payload, f.cfg.Format, f.cfg.Meta)
			if !yield(af) {
				return
			}
			seq++
			offset += af.Duration()
		}
	}
}
