package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTStream      ReasonCode = "stt_stream"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSend        ReasonCode = "tts_send"
	ReasonTTSStream      ReasonCode = "tts_stream"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMStream      ReasonCode = "llm_stream"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonAdapterTimeout ReasonCode = "adapter_timeout"
	ReasonCodecMalformed ReasonCode = "codec_malformed"

	ReasonAgentNotFound     ReasonCode = "agent_not_found"
	ReasonAgentLookup       ReasonCode = "agent_lookup"
	ReasonBridgeDisconnect  ReasonCode = "bridge_disconnect"
	ReasonIdleTimeout       ReasonCode = "idle_timeout"
	ReasonResourceExhausted ReasonCode = "resource_exhausted"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportHangup           ReasonCode = "transport_hangup"
)

// Kind groups reasons by how a live call reacts to them.
type Kind string

const (
	// KindTransient errors are retried once, then answered with a spoken apology.
	KindTransient Kind = "transient"
	// KindCodec errors drop the offending frame.
	KindCodec Kind = "codec"
	// KindUnrecoverable errors end the call.
	KindUnrecoverable Kind = "unrecoverable"
	// KindExhausted errors reject a new call before a session exists.
	KindExhausted Kind = "exhausted"
)

var reasonKinds = map[ReasonCode]Kind{
	ReasonCodecMalformed:    KindCodec,
	ReasonAgentNotFound:     KindUnrecoverable,
	ReasonAgentLookup:       KindUnrecoverable,
	ReasonBridgeDisconnect:  KindUnrecoverable,
	ReasonIdleTimeout:       KindUnrecoverable,
	ReasonSTTConnect:        KindUnrecoverable,
	ReasonResourceExhausted: KindExhausted,
}

// KindOf classifies err. Anything not explicitly mapped is transient.
func KindOf(err error) Kind {
	if kind, ok := reasonKinds[Reason(err)]; ok {
		return kind
	}
	return KindTransient
}
