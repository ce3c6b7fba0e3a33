package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
)

func TestMuLawRoundTripAllBytes(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		got := EncodeSample(DecodeSample(b))
		if got != b {
			t.Fatalf("encode(decode(0x%02X)) = 0x%02X", b, got)
		}
	}
}

func TestMuLawKnownValues(t *testing.T) {
	cases := []struct {
		in   int16
		want byte
	}{
		{0, 0xFF},
		{-1, 0x7F},
		{32767, 0x80},
		{-32768, 0x00},
	}
	for _, tc := range cases {
		if got := EncodeSample(tc.in); got != tc.want {
			t.Fatalf("EncodeSample(%d) = 0x%02X, want 0x%02X", tc.in, got, tc.want)
		}
	}
	if DecodeSample(0xFF) != 0 {
		t.Fatalf("expected 0xFF to decode to 0, got %d", DecodeSample(0xFF))
	}
	if DecodeSample(0x80) != 32124 {
		t.Fatalf("expected 0x80 to decode to 32124, got %d", DecodeSample(0x80))
	}
}

func TestMuLawMonotonicMagnitude(t *testing.T) {
	prev := DecodeSample(0xFF)
	for b := 0xFE; b >= 0x80; b-- {
		v := DecodeSample(byte(b))
		if v <= prev {
			t.Fatalf("expected increasing magnitude at 0x%02X: %d <= %d", b, v, prev)
		}
		prev = v
	}
}

func TestDecodeEncodeEmpty(t *testing.T) {
	if out := Decode(nil); len(out) != 0 {
		t.Fatalf("expected empty decode output")
	}
	if out := Encode(nil); len(out) != 0 {
		t.Fatalf("expected empty encode output")
	}
	if out := DecodeBytes([]byte{}); len(out) != 0 {
		t.Fatalf("expected empty byte decode output")
	}
}

func TestLinear16BytesRoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 1234}
	if got := BytesToSamples(SamplesToBytes(pcm)); !equalSamples(got, pcm) {
		t.Fatalf("linear16 round trip mismatch: %v", got)
	}
	wire := []byte{0x00, 0x7F, 0x80, 0xFF, 0x12}
	if got := EncodeBytes(DecodeBytes(wire)); !bytes.Equal(got, wire) {
		t.Fatalf("byte-level μ-law round trip mismatch: %v", got)
	}
}

func TestResample(t *testing.T) {
	in := []int16{1, 2, 3, 4, 5}
	up, err := Resample(in, 8000, 16000)
	if err != nil {
		t.Fatalf("upsample: %v", err)
	}
	if want := []int16{1, 1, 2, 2, 3, 3, 4, 4, 5, 5}; !equalSamples(up, want) {
		t.Fatalf("upsample = %v, want %v", up, want)
	}
	down, err := Resample(up, 16000, 8000)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	if !equalSamples(down, in) {
		t.Fatalf("downsample = %v, want %v", down, in)
	}
	same, err := Resample(in, 8000, 8000)
	if err != nil || !equalSamples(same, in) {
		t.Fatalf("same-rate resample = %v, %v", same, err)
	}
	same[0] = 99
	if in[0] != 1 {
		t.Fatalf("expected same-rate resample to copy")
	}
	if out, err := Resample(nil, 16000, 8000); err != nil || len(out) != 0 {
		t.Fatalf("expected empty output for empty input, got %v, %v", out, err)
	}
}

func TestResampleRejectsBadRates(t *testing.T) {
	if _, err := Resample([]int16{1}, 0, 8000); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	if _, err := Resample([]int16{1}, 44100, 8000); !errors.Is(err, ErrUnsupportedRate) {
		t.Fatalf("expected ErrUnsupportedRate, got %v", err)
	}
}

func TestChunkProperties(t *testing.T) {
	for _, n := range []int{0, 1, 159, 160, 161, 480, 1000} {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(i)
		}
		chunks := Chunk(buf, ChunkConfig{StreamID: "s", Format: frames.Telephony, StartSeq: 10})
		want := (n + 159) / 160
		if chunks.Len() != want {
			t.Fatalf("len=%d: expected %d frames, got %d", n, want, chunks.Len())
		}
		var joined []byte
		count := 0
		var lastSeq uint64
		for f := range chunks.All() {
			if count < want-1 && len(f.RawPayload()) != 160 {
				t.Fatalf("len=%d: frame %d has %d bytes", n, count, len(f.RawPayload()))
			}
			if f.Offset() != time.Duration(count)*20*time.Millisecond {
				t.Fatalf("len=%d: frame %d offset %s", n, count, f.Offset())
			}
			lastSeq = f.Seq()
			joined = append(joined, f.RawPayload()...)
			count++
		}
		if count != want {
			t.Fatalf("len=%d: iterated %d frames, want %d", n, count, want)
		}
		if want > 0 && lastSeq != uint64(10+want-1) {
			t.Fatalf("len=%d: last seq %d", n, lastSeq)
		}
		if !bytes.Equal(joined, buf) {
			t.Fatalf("len=%d: concatenated frames differ from input", n)
		}
	}
}

func TestChunkIsRestartable(t *testing.T) {
	chunks := Chunk(make([]byte, 500), ChunkConfig{Format: frames.Telephony})
	first, second := 0, 0
	for range chunks.All() {
		first++
	}
	for range chunks.All() {
		second++
	}
	if first != 4 || second != 4 {
		t.Fatalf("expected 4 frames on both passes, got %d and %d", first, second)
	}
}

func TestFrameSize(t *testing.T) {
	if got := FrameSize(frames.Telephony, 20*time.Millisecond); got != 160 {
		t.Fatalf("expected 160, got %d", got)
	}
	pcm16k := frames.Format{Rate: 16000, Encoding: frames.EncodingLinear16}
	if got := FrameSize(pcm16k, 20*time.Millisecond); got != 640 {
		t.Fatalf("expected 640, got %d", got)
	}
}

func TestWireEnvelope(t *testing.T) {
	payload := []byte{0xFF, 0x7F, 0x00}
	f := frames.NewAudioFrame("s", 3, 60*time.Millisecond, payload, frames.Telephony, nil)
	wire := ToWireEnvelope(f)
	back, err := FromWireEnvelope("s", 3, 60*time.Millisecond, wire, nil)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !bytes.Equal(back.RawPayload(), payload) || back.Seq() != 3 {
		t.Fatalf("envelope round trip mismatch")
	}
	if _, err := FromWireEnvelope("s", 4, 0, "not base64!!", nil); !errorsx.HasReason(err, errorsx.ReasonCodecMalformed) {
		t.Fatalf("expected codec reason, got %v", err)
	}
	empty, err := FromWireEnvelope("s", 5, 0, "", nil)
	if err != nil || len(empty.RawPayload()) != 0 {
		t.Fatalf("expected empty frame, got %v", err)
	}
}

func TestTranscoderInbound(t *testing.T) {
	tc := NewTranscoder(TranscoderConfig{StreamID: "s"})
	in := frames.NewAudioFrame("s", 9, 180*time.Millisecond, bytes.Repeat([]byte{0xFF}, 160), frames.Telephony, nil)
	out, err := tc.Inbound(in)
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if out.Rate() != 16000 || out.Encoding() != frames.EncodingLinear16 {
		t.Fatalf("unexpected inbound format %+v", out.Format())
	}
	if len(out.RawPayload()) != 640 {
		t.Fatalf("expected 640 bytes, got %d", len(out.RawPayload()))
	}
	if out.Seq() != 9 || out.Offset() != 180*time.Millisecond {
		t.Fatalf("expected seq/offset preserved")
	}

	passthrough := NewTranscoder(TranscoderConfig{StreamID: "s", Adapter: frames.Telephony})
	same, err := passthrough.Inbound(in)
	if err != nil || !bytes.Equal(same.RawPayload(), in.RawPayload()) {
		t.Fatalf("expected μ-law passthrough")
	}
}

func TestTranscoderOutboundFramesAcrossChunks(t *testing.T) {
	tc := NewTranscoder(TranscoderConfig{StreamID: "s"})
	src := frames.Format{Rate: 16000, Encoding: frames.EncodingLinear16}

	// 25ms of audio split at an odd byte boundary.
	audio := SamplesToBytes(make([]int16, 400))
	first, err := tc.Outbound(audio[:301], src)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("expected no full frame yet, got %d", len(first))
	}
	second, err := tc.Outbound(audio[301:], src)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if len(second) != 1 || len(second[0].RawPayload()) != 160 {
		t.Fatalf("expected one 20ms frame, got %d", len(second))
	}
	rest := tc.Flush()
	if len(rest) != 1 || len(rest[0].RawPayload()) != 40 {
		t.Fatalf("expected one 5ms tail frame, got %v", len(rest))
	}
	if rest[0].Seq() != second[0].Seq()+1 {
		t.Fatalf("expected contiguous sequence numbers")
	}
	n, d := tc.Sent()
	if n != 2 || d != 25*time.Millisecond {
		t.Fatalf("expected 2 frames / 25ms sent, got %d / %s", n, d)
	}
}

func TestTranscoderResetDropsPending(t *testing.T) {
	tc := NewTranscoder(TranscoderConfig{StreamID: "s"})
	if _, err := tc.Outbound(make([]byte, 100), frames.Telephony); err != nil {
		t.Fatalf("outbound: %v", err)
	}
	tc.Reset()
	if out := tc.Flush(); len(out) != 0 {
		t.Fatalf("expected nothing after reset, got %d frames", len(out))
	}
}

func equalSamples(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
