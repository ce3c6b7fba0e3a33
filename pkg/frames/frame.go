package frames

import "time"

type Kind string

const (
	KindAudio   Kind = "audio"
	KindControl Kind = "control"
	KindSystem  Kind = "system"
)

type ControlCode string

const (
	// ControlClear asks the bridge to drop audio it has buffered but not yet played.
	ControlClear ControlCode = "clear"
	ControlFlush ControlCode = "flush"
)

// System frame names emitted by transports.
const (
	SystemCallStart = "call_start"
	SystemCallEnd   = "call_end"
)

// Encoding names the sample representation carried by an AudioFrame.
type Encoding string

const (
	EncodingMuLaw    Encoding = "mulaw"
	EncodingLinear16 Encoding = "linear16"
)

// BytesPerSample returns the byte width of one sample.
func (e Encoding) BytesPerSample() int {
	if e == EncodingLinear16 {
		return 2
	}
	return 1
}

// Format describes the audio carried by a frame.
type Format struct {
	Rate     int
	Channels int
	Encoding Encoding
}

// Telephony is the carrier wire format: 8 kHz mono μ-law.
var Telephony = Format{Rate: 8000, Channels: 1, Encoding: EncodingMuLaw}

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// AudioFrame is an immutable chunk of audio belonging to one call.
// Seq is monotonic per call and direction; Offset is measured from call start.
type AudioFrame struct {
	seq    uint64
	offset time.Duration
	data   []byte
	format Format
	meta   map[string]string
}

func NewAudioFrame(streamID string, seq uint64, offset time.Duration, data []byte, format Format, meta map[string]string) AudioFrame {
	if format.Channels == 0 {
		format.Channels = 1
	}
	return AudioFrame{
		seq:    seq,
		offset: offset,
		data:   data,
		format: format,
		meta:   mergeMeta(streamID, meta),
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.offset.Nanoseconds() }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Seq() uint64             { return a.seq }
func (a AudioFrame) Offset() time.Duration   { return a.offset }
func (a AudioFrame) Format() Format          { return a.format }
func (a AudioFrame) Rate() int               { return a.format.Rate }
func (a AudioFrame) Channels() int           { return a.format.Channels }
func (a AudioFrame) Encoding() Encoding      { return a.format.Encoding }

// StreamID returns the carrier stream the frame belongs to.
func (a AudioFrame) StreamID() string { return a.meta[MetaStreamID] }

// Duration is the playback length of the payload.
func (a AudioFrame) Duration() time.Duration {
	per := a.format.Encoding.BytesPerSample() * a.format.Channels
	if a.format.Rate <= 0 || per <= 0 {
		return 0
	}
	samples := len(a.data) / per
	return time.Duration(samples) * time.Second / time.Duration(a.format.Rate)
}

type ControlFrame struct {
	pts  int64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(streamID string, pts int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		pts:  pts,
		code: code,
		meta: mergeMeta(streamID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) PTS() int64              { return c.pts }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }

type SystemFrame struct {
	pts  int64
	name string
	meta map[string]string
}

func NewSystemFrame(streamID string, pts int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{
		pts:  pts,
		name: name,
		meta: mergeMeta(streamID, meta),
	}
}

func (s SystemFrame) Kind() Kind              { return KindSystem }
func (s SystemFrame) PTS() int64              { return s.pts }
func (s SystemFrame) Meta() map[string]string { return cloneMeta(s.meta) }
func (s SystemFrame) Name() string            { return s.name }

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
