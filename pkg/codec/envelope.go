package codec

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/harunnryd/voxline/pkg/errorsx"
	"github.com/harunnryd/voxline/pkg/frames"
)

// ToWireEnvelope renders a frame's payload as the carrier's base64 text.
func ToWireEnvelope(f frames.AudioFrame) string {
	return base64.StdEncoding.EncodeToString(f.RawPayload())
}

// FromWireEnvelope decodes a carrier media payload into a telephony frame.
func FromWireEnvelope(streamID string, seq uint64, offset time.Duration, payload string, meta map[string]string) (frames.AudioFrame, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return frames.AudioFrame{}, errorsx.Wrap(fmt.Errorf("decode media payload seq=%d: %w", seq, err), errorsx.ReasonCodecMalformed)
	}
	return frames.NewAudioFrame(streamID, seq, offset, raw, frames.Telephony, meta), nil
}
