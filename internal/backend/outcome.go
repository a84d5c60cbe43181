package backend

import "github.com/elisa-tech/BASIL-sub001/internal/model"

// Outcome is a backend result normalized to the canonical vocabulary.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePass
	OutcomeFail
	OutcomeError
)

// Terminal reports whether the remote job has finished.
func (o Outcome) Terminal() bool { return o != OutcomePending }

// Result returns the run result for a terminal outcome.
func (o Outcome) Result() string {
	switch o {
	case OutcomePass:
		return model.ResultPass
	case OutcomeError:
		return model.ResultError
	case OutcomePending:
		return ""
	default:
		return model.ResultFail
	}
}

func (o Outcome) String() string {
	if o == OutcomePending {
		return "pending"
	}
	return o.Result()
}

// Vocabulary maps a backend's native status tokens to outcomes.
type Vocabulary map[string]Outcome

// Map returns the outcome for token. Unknown tokens fail.
func (v Vocabulary) Map(token string) Outcome {
	if o, ok := v[token]; ok {
		return o
	}
	return OutcomeFail
}

// Combine folds several outcomes: any pending keeps the whole pending, then
// error beats fail beats pass. No outcomes at all is a failure.
func Combine(outcomes ...Outcome) Outcome {
	if len(outcomes) == 0 {
		return OutcomeFail
	}
	worst := OutcomePass
	for _, o := range outcomes {
		switch {
		case o == OutcomePending:
			return OutcomePending
		case o == OutcomeError:
			worst = OutcomeError
		case o == OutcomeFail && worst != OutcomeError:
			worst = OutcomeFail
		}
	}
	return worst
}
