package turn

import "strings"

type State int32

const (
	StateListening State = iota
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateInterrupted
	StateEnded
)

// States lists every state, in declaration order.
var States = []State{StateListening, StateTranscribing, StateGenerating, StateSpeaking, StateInterrupted, StateEnded}

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateGenerating:
		return "GENERATING"
	case StateSpeaking:
		return "SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// EventKind is everything that can happen to a call.
type EventKind int

const (
	EventCallerAudio EventKind = iota + 1
	EventSpeechStarted
	EventInterimTranscript
	EventFinalTranscript
	EventSpeechEnded
	EventGenerationDelta
	EventGenerationComplete
	EventSynthesisAudio
	EventSynthesisComplete
	EventAdapterError
	EventApologyFailed
	EventFatalError
	EventGreeting
	EventCallEnd
	EventIdleTimeout
)

// EventKinds lists every event kind, in declaration order.
var EventKinds = []EventKind{
	EventCallerAudio, EventSpeechStarted, EventInterimTranscript, EventFinalTranscript, EventSpeechEnded,
	EventGenerationDelta, EventGenerationComplete, EventSynthesisAudio, EventSynthesisComplete,
	EventAdapterError, EventApologyFailed, EventFatalError, EventGreeting, EventCallEnd, EventIdleTimeout,
}

func (k EventKind) String() string {
	switch k {
	case EventCallerAudio:
		return "caller_audio"
	case EventSpeechStarted:
		return "speech_started"
	case EventInterimTranscript:
		return "interim_transcript"
	case EventFinalTranscript:
		return "final_transcript"
	case EventSpeechEnded:
		return "speech_ended"
	case EventGenerationDelta:
		return "generation_delta"
	case EventGenerationComplete:
		return "generation_complete"
	case EventSynthesisAudio:
		return "synthesis_audio"
	case EventSynthesisComplete:
		return "synthesis_complete"
	case EventAdapterError:
		return "adapter_error"
	case EventApologyFailed:
		return "apology_failed"
	case EventFatalError:
		return "fatal_error"
	case EventGreeting:
		return "greeting"
	case EventCallEnd:
		return "call_end"
	case EventIdleTimeout:
		return "idle_timeout"
	default:
		return "unknown"
	}
}

// Action is a set of side effects the controller performs for a transition.
// Effects run in the order the constants are declared.
type Action uint32

const (
	ActForward Action = 1 << iota
	ActStopPlayback
	ActMarkInterrupted
	ActOpenCaller
	ActAbandonCaller
	ActCommitCaller
	ActStartGeneration
	ActBuffer
	ActCommitAgent
	ActStartSynthesis
	ActSendAudio
	ActFinishPlayback
	ActApologize
	ActSpeakGreeting
	ActEnd

	ActNone Action = 0
)

var actionNames = []string{
	"forward", "stop_playback", "mark_interrupted", "open_caller", "abandon_caller", "commit_caller",
	"start_generation", "buffer", "commit_agent", "start_synthesis", "send_audio", "finish_playback",
	"apologize", "speak_greeting", "end",
}

func (a Action) Has(flag Action) bool { return a&flag != 0 }

func (a Action) String() string {
	if a == ActNone {
		return "none"
	}
	var parts []string
	for i, name := range actionNames {
		if a.Has(1 << i) {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "+")
}

const (
	bargeIn       = ActStopPlayback | ActMarkInterrupted | ActOpenCaller
	newCallerTurn = ActCommitCaller | ActStartGeneration
)

// Next is the call's transition table. It is total: every state and event
// yields a state and an action set, and Ended absorbs everything.
//
// Events from a cancelled generation or synthesis never reach Next; the
// controller stops reading their streams when it cancels them.
func Next(from State, ev EventKind) (State, Action) {
	if from == StateEnded {
		return StateEnded, ActNone
	}
	switch ev {
	case EventCallEnd, EventIdleTimeout, EventFatalError:
		return StateEnded, ActEnd
	case EventCallerAudio:
		return from, ActForward
	}

	switch from {
	case StateListening:
		switch ev {
		case EventSpeechStarted, EventInterimTranscript:
			return StateTranscribing, ActStopPlayback | ActOpenCaller
		case EventFinalTranscript:
			return StateGenerating, ActStopPlayback | newCallerTurn
		case EventSpeechEnded:
			return StateListening, ActAbandonCaller
		case EventSynthesisAudio:
			// apology playback
			return StateListening, ActSendAudio
		case EventSynthesisComplete:
			return StateListening, ActFinishPlayback
		case EventAdapterError:
			return StateListening, ActApologize
		case EventGreeting:
			return StateSpeaking, ActSpeakGreeting
		}
		return StateListening, ActNone

	case StateTranscribing:
		switch ev {
		case EventFinalTranscript:
			return StateGenerating, newCallerTurn
		case EventSpeechEnded:
			return StateListening, ActAbandonCaller
		case EventAdapterError:
			return StateListening, ActApologize
		}
		return StateTranscribing, ActNone

	case StateGenerating:
		switch ev {
		case EventSpeechStarted, EventInterimTranscript:
			return StateGenerating, ActOpenCaller
		case EventFinalTranscript:
			return StateGenerating, newCallerTurn
		case EventSpeechEnded:
			return StateGenerating, ActAbandonCaller
		case EventGenerationDelta:
			return StateGenerating, ActBuffer
		case EventGenerationComplete:
			return StateSpeaking, ActCommitAgent | ActStartSynthesis
		case EventAdapterError:
			return StateListening, ActApologize
		}
		return StateGenerating, ActNone

	case StateSpeaking:
		switch ev {
		case EventSpeechStarted:
			return StateInterrupted, bargeIn
		case EventInterimTranscript:
			return StateSpeaking, ActOpenCaller
		case EventFinalTranscript:
			return StateGenerating, bargeIn | newCallerTurn
		case EventSpeechEnded:
			return StateSpeaking, ActAbandonCaller
		case EventSynthesisAudio:
			return StateSpeaking, ActSendAudio
		case EventSynthesisComplete:
			return StateListening, ActFinishPlayback
		case EventAdapterError:
			return StateListening, ActMarkInterrupted | ActApologize
		}
		return StateSpeaking, ActNone

	case StateInterrupted:
		switch ev {
		case EventFinalTranscript:
			return StateGenerating, newCallerTurn
		case EventSpeechEnded:
			return StateListening, ActAbandonCaller
		case EventAdapterError:
			return StateListening, ActApologize
		}
		return StateInterrupted, ActNone
	}
	return from, ActNone
}
