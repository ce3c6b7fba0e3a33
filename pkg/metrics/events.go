package metrics

// Event names recorded by the engine, the call controller and adapters.
const (
	EventCallAdmitted  = "call_admitted"
	EventCallRejected  = "call_rejected"
	EventCallEnded     = "call_ended"
	EventTurnState     = "turn_state"
	EventBargeIn       = "barge_in"
	EventSpeechStarted = "speech_started"
	EventAdapterError  = "adapter_error"
	EventApology       = "apology"
	EventFrameDropped  = "frame_dropped"

	EventSTTFinal      = "stt_final"
	EventLLMFirstToken = "llm_first_token"
	EventLLMDone       = "llm_done"
	EventTTSFirstAudio = "tts_first_audio"
	EventTTSDone       = "tts_done"

	EventRateLimit     = "rate_limit"
	EventBreakerDenied = "breaker_denied"
	EventBreakerOpen   = "breaker_open"
)
