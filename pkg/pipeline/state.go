package pipeline

import "fmt"

// State is the lifecycle position of a candidate file. Formatted and
// Quarantined are the only terminal states.
type State int

const (
	Fetched State = iota
	SignatureChecked
	Decoded
	Extracted
	Formatted
	Quarantined
)

var stateNames = [...]string{
	Fetched:          "fetched",
	SignatureChecked: "signature_checked",
	Decoded:          "decoded",
	Extracted:        "extracted",
	Formatted:        "formatted",
	Quarantined:      "quarantined",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Formatted || s == Quarantined
}

// Stage names the step that rejected a candidate.
type Stage string

const (
	StageRead      Stage = "read"
	StageSignature Stage = "signature"
	StageDecode    Stage = "decode"
	StageExtract   Stage = "extract"
	StageEmit      Stage = "emit"
)

// StageError is the reject reason of a candidate. Err wraps one of the
// pkcs12 sentinel errors and can be matched with errors.Is.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
