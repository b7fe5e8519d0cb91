package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseSucceeded.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	for _, p := range []Phase{PhaseIdle, PhaseSigningUp, PhaseAwaitingVerification, PhaseVerifying, PhasePersisting} {
		assert.False(t, p.Terminal(), "phase %q", p)
	}
}

func TestProjectDerivesFlagsFromPhase(t *testing.T) {
	awaiting := Project(State{Phase: PhaseAwaitingVerification})
	assert.True(t, awaiting.ShowVerificationDialog)
	assert.True(t, awaiting.CanCheckNow)
	assert.True(t, awaiting.InProgress)

	// While persisting the flow is irrevocable: no manual check, no reset.
	persisting := Project(State{Phase: PhasePersisting})
	assert.False(t, persisting.CanCheckNow)
	assert.False(t, persisting.CanReset)
	assert.True(t, persisting.InProgress)

	failed := Project(State{Phase: PhaseFailed, Err: &FlowError{Code: CodeNetwork, Retryable: true}})
	assert.True(t, failed.Failed)
	assert.True(t, failed.CanRetry)
	assert.True(t, failed.CanReset)

	succeeded := Project(State{Phase: PhaseSucceeded})
	assert.True(t, succeeded.Succeeded)
	assert.False(t, succeeded.InProgress)
}

func TestProjectWithholdsRetryForPermanentFailures(t *testing.T) {
	duplicate := Project(State{Phase: PhaseFailed, Err: &FlowError{Code: CodeDuplicateEmail}})
	assert.True(t, duplicate.Failed)
	assert.False(t, duplicate.CanRetry)
	assert.True(t, duplicate.CanReset)

	rejected := Project(State{Phase: PhaseFailed, Err: &FlowError{Code: CodeValidation}})
	assert.False(t, rejected.CanRetry)
}
