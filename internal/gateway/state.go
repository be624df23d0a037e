package gateway

// State is a phase of one ChatOrGenerate call
type State int

const (
	Idle State = iota
	SelectingProvider
	ExtractingPII
	Anonymizing
	CallingProvider
	Deanonymizing
	Done
	Failed
	Cancelled
)

var stateNames = [...]string{
	Idle:              "idle",
	SelectingProvider: "selecting_provider",
	ExtractingPII:     "extracting_pii",
	Anonymizing:       "anonymizing",
	CallingProvider:   "calling_provider",
	Deanonymizing:     "deanonymizing",
	Done:              "done",
	Failed:            "failed",
	Cancelled:         "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Cancelled
}

// Outcome is the terminal state of a call as seen by the caller
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Observer is told about every state transition. It runs synchronously on
// the calling goroutine and must not block.
type Observer func(requestID string, from, to State)
