package codec

import (
	"time"

	"github.com/harunnryd/voxline/pkg/frames"
)

// TranscoderConfig describes one call's audio plumbing.
type TranscoderConfig struct {
	StreamID      string
	Adapter       frames.Format
	FrameDuration time.Duration
	Meta          map[string]string
}

// Transcoder converts audio between the carrier and the adapters for a single
// call. It owns the outbound sequence counter and offset clock, so it must not
// be shared between calls or used from more than one goroutine.
type Transcoder struct {
	cfg     TranscoderConfig
	seq     uint64
	offset  time.Duration
	pending []byte
	carry   []byte
}

func NewTranscoder(cfg TranscoderConfig) *Transcoder {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.Adapter.Rate == 0 {
		cfg.Adapter = frames.Format{Rate: 16000, Channels: 1, Encoding: frames.EncodingLinear16}
	}
	return &Transcoder{cfg: cfg}
}

// Inbound converts a carrier frame to the adapter format, keeping its sequence
// number and offset.
func (t *Transcoder) Inbound(f frames.AudioFrame) (frames.AudioFrame, error) {
	target := t.cfg.Adapter
	if f.Encoding() == target.Encoding && f.Rate() == target.Rate {
		return f, nil
	}
	pcm := t.toSamples(f.RawPayload(), f.Format())
	pcm, err := Resample(pcm, f.Rate(), target.Rate)
	if err != nil {
		return frames.AudioFrame{}, err
	}
	var out []byte
	if target.Encoding == frames.EncodingMuLaw {
		out = Encode(pcm)
	} else {
		out = SamplesToBytes(pcm)
	}
	return frames.NewAudioFrame(f.StreamID(), f.Seq(), f.Offset(), out, target, f.Meta()), nil
}

// Outbound converts synthesized audio to carrier frames. Audio that does not
// fill a whole frame is held until the next call or Flush.
func (t *Transcoder) Outbound(audio []byte, src frames.Format) ([]frames.AudioFrame, error) {
	wire, err := t.toWire(audio, src)
	if err != nil {
		return nil, err
	}
	t.pending = append(t.pending, wire...)
	size := FrameSize(frames.Telephony, t.cfg.FrameDuration)
	whole := len(t.pending) / size * size
	if whole == 0 {
		return nil, nil
	}
	out := t.emit(t.pending[:whole])
	t.pending = append(t.pending[:0], t.pending[whole:]...)
	return out, nil
}

// Flush emits the held partial frame, if any.
func (t *Transcoder) Flush() []frames.AudioFrame {
	t.carry = t.carry[:0]
	if len(t.pending) == 0 {
		return nil
	}
	out := t.emit(t.pending)
	t.pending = t.pending[:0]
	return out
}

// Reset drops held audio without emitting it.
func (t *Transcoder) Reset() {
	t.pending = t.pending[:0]
	t.carry = t.carry[:0]
}

// Sent reports how many outbound frames were produced and their total duration.
func (t *Transcoder) Sent() (uint64, time.Duration) {
	return t.seq, t.offset
}

func (t *Transcoder) emit(buf []byte) []frames.AudioFrame {
	chunks := Chunk(buf, ChunkConfig{
		StreamID:      t.cfg.StreamID,
		Format:        frames.Telephony,
		FrameDuration: t.cfg.FrameDuration,
		StartSeq:      t.seq,
		StartOffset:   t.offset,
		Meta:          t.cfg.Meta,
	})
	out := make([]frames.AudioFrame, 0, chunks.Len())
	for f := range chunks.All() {
		out = append(out, f)
		t.seq++
		t.offset += f.Duration()
	}
	return out
}

func (t *Transcoder) toWire(audio []byte, src frames.Format) ([]byte, error) {
	if src.Encoding == frames.EncodingMuLaw && src.Rate == frames.Telephony.Rate {
		return audio, nil
	}
	buf := append(t.carry, audio...)
	width := src.Encoding.BytesPerSample()
	// keep whole samples, and for decimation whole groups, so phase survives chunk boundaries
	group := width * ratio(src.Rate, frames.Telephony.Rate)
	usable := len(buf) / group * group
	t.carry = append([]byte(nil), buf[usable:]...)
	pcm := t.toSamples(buf[:usable], src)
	pcm, err := Resample(pcm, src.Rate, frames.Telephony.Rate)
	if err != nil {
		return nil, err
	}
	return Encode(pcm), nil
}

func (t *Transcoder) toSamples(b []byte, format frames.Format) []int16 {
	if format.Encoding == frames.EncodingMuLaw {
		return Decode(b)
	}
	return BytesToSamples(b)
}
