package twilio

import "strings"

// StreamEvent is one inbound Media Streams message. Only the fields the
// bridge reads are decoded.
type StreamEvent struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSID      string       `json:"streamSid"`
	Start          *StreamStart `json:"start,omitempty"`
	Media          *StreamMedia `json:"media,omitempty"`
}

type StreamStart struct {
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StreamMedia struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// outboundMessage is what the bridge writes back: "media" carries audio,
// "clear" drops whatever Twilio still has queued for playback.
type outboundMessage struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

const (
	endCompleted       = "completed"
	endTransportClosed = "transport_closed"
)

// terminalStatuses maps a status callback's CallStatus to the call_end
// reason the engine sees. Statuses not listed are still in progress.
var terminalStatuses = map[string]string{
	"completed": endCompleted,
	"busy":      "busy",
	"no-answer": "no_answer",
	"failed":    "failed",
	"canceled":  "failed",
}

func callEndReason(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "queued", "initiated", "ringing", "in-progress":
		return "", false
	}
	if reason, ok := terminalStatuses[status]; ok {
		return reason, true
	}
	return "unknown", true
}
