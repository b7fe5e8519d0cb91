package registration

// Phase is the single source of truth for the submission flow. UI booleans
// are derived from it by Projection, never stored independently.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseSigningUp            Phase = "signing_up"
	PhaseAwaitingVerification Phase = "awaiting_verification"
	PhaseVerifying            Phase = "verifying"
	PhasePersisting           Phase = "persisting"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
)

// Terminal reports whether the flow has settled. A failed flow can still be
// re-entered via Retry.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Projection derives every UI-facing flag from the phase.
type Projection struct {
	ShowVerificationDialog bool
	CanCheckNow            bool
	CanRetry               bool
	CanReset               bool
	InProgress             bool
	Succeeded              bool
	Failed                 bool
}

// Project maps a snapshot onto its UI projection. The mapping is pure so
// tests can assert on it directly. Retry is offered only for failures that
// can plausibly succeed on a second pass.
func Project(s State) Projection {
	proj := projectPhase(s.Phase)
	if s.Phase == PhaseFailed && s.Err != nil && !s.Err.Retryable {
		proj.CanRetry = false
	}
	return proj
}

func projectPhase(p Phase) Projection {
	switch p {
	case PhaseIdle:
		return Projection{CanReset: false}
	case PhaseSigningUp:
		return Projection{InProgress: true}
	case PhaseAwaitingVerification:
		return Projection{ShowVerificationDialog: true, CanCheckNow: true, CanReset: true, InProgress: true}
	case PhaseVerifying:
		return Projection{ShowVerificationDialog: true, CanReset: true, InProgress: true}
	case PhasePersisting:
		// Irrevocable: no manual check, no reset until it settles.
		return Projection{InProgress: true}
	case PhaseSucceeded:
		return Projection{Succeeded: true, CanReset: true}
	case PhaseFailed:
		return Projection{Failed: true, CanRetry: true, CanReset: true}
	default:
		return Projection{}
	}
}
