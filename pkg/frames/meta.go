package frames

// Metadata keys shared by transports, the engine and observers.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaSource        = "source"
	MetaReason        = "reason"
	MetaEncoding      = "encoding"
	MetaFromNumber    = "from_number"
	MetaToNumber      = "to_number"
	MetaCallEndReason = "call_end_reason"
	MetaSequence      = "sequence"
)
