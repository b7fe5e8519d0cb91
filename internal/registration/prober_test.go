package registration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	mu      sync.Mutex
	calls   []string
	blocks  map[string]chan struct{}
	results map[string]*ProbeResult
	errs    map[string]error
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		blocks:  make(map[string]chan struct{}),
		results: make(map[string]*ProbeResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeChecker) Check(ctx context.Context, email string) (*ProbeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, email)
	block := f.blocks[email]
	result := f.results[email]
	errv := f.errs[email]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errv != nil {
		return nil, errv
	}
	return result, nil
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeResender struct {
	mu     sync.Mutex
	emails []string
	err    error
}

func (f *fakeResender) ResendVerification(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	return f.err
}

func newTestProber(t *testing.T, checker StatusChecker, opts ...ProberOption) (*Prober, chan ProbeState) {
	t.Helper()

	states := make(chan ProbeState, 128)
	opts = append([]ProberOption{
		WithDebounce(0),
		WithProbeListener(func(s ProbeState) { states <- s }),
	}, opts...)
	p, err := NewProber(checker, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, states
}

func waitProbeState(t *testing.T, states chan ProbeState, match func(ProbeState) bool) ProbeState {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for probe state")
			return ProbeState{}
		}
	}
}

func resolved(email string) func(ProbeState) bool {
	return func(s ProbeState) bool { return s.Email == email && s.Result != nil }
}

func TestProbeDebounceCoalescesKeystrokes(t *testing.T) {
	checker := newFakeChecker()
	checker.results["alice@x.com"] = &ProbeResult{Email: "alice@x.com", Status: StatusNotRegistered}

	states := make(chan ProbeState, 128)
	p, err := NewProber(checker,
		WithDebounce(30*time.Millisecond),
		WithProbeListener(func(s ProbeState) { states <- s }),
	)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	// Keystrokes inside the settle window supersede each other; only the
	// final input produces a network call.
	p.Probe("alic@x.com")
	time.Sleep(5 * time.Millisecond)
	p.Probe("alice@x.com")

	final := waitProbeState(t, states, resolved("alice@x.com"))
	assert.Equal(t, StatusNotRegistered, final.Result.Status)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, checker.callCount())
	f := checker
	f.mu.Lock()
	assert.Equal(t, []string{"alice@x.com"}, f.calls)
	f.mu.Unlock()
}

func TestProbeLastIssuedWins(t *testing.T) {
	checker := newFakeChecker()
	release := make(chan struct{})
	checker.blocks["slow@test.com"] = release
	checker.results["slow@test.com"] = &ProbeResult{Email: "slow@test.com", Status: StatusRegisteredVerified}
	checker.results["fast@test.com"] = &ProbeResult{Email: "fast@test.com", Status: StatusNotRegistered}

	p, states := newTestProber(t, checker)

	p.Probe("slow@test.com")
	p.Probe("fast@test.com")

	final := waitProbeState(t, states, resolved("fast@test.com"))
	assert.Equal(t, StatusNotRegistered, final.Result.Status)

	// The superseded probe resolving later must not overwrite visible state.
	close(release)
	time.Sleep(20 * time.Millisecond)
	s := p.State()
	assert.Equal(t, "fast@test.com", s.Email)
	require.NotNil(t, s.Result)
	assert.Equal(t, StatusNotRegistered, s.Result.Status)
}

func TestProbeServesCacheWithinTTL(t *testing.T) {
	checker := newFakeChecker()
	checker.results["alice@x.com"] = &ProbeResult{Email: "alice@x.com", Status: StatusRegisteredUnverified}

	var clock struct {
		sync.Mutex
		now time.Time
	}
	clock.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	nowFn := func() time.Time {
		clock.Lock()
		defer clock.Unlock()
		return clock.now
	}

	p, states := newTestProber(t, checker, WithProberClock(nowFn))

	p.Probe("alice@x.com")
	waitProbeState(t, states, resolved("alice@x.com"))
	assert.Equal(t, 1, checker.callCount())

	// Within TTL the cached classification is returned without a call.
	p.Probe("alice@x.com")
	waitProbeState(t, states, resolved("alice@x.com"))
	assert.Equal(t, 1, checker.callCount())

	// Force check bypasses the cache.
	p.ForceCheck("alice@x.com")
	waitProbeState(t, states, resolved("alice@x.com"))
	assert.Equal(t, 2, checker.callCount())

	// Past the TTL the cache entry is stale.
	clock.Lock()
	clock.now = clock.now.Add(3 * time.Minute)
	clock.Unlock()

	p.Probe("alice@x.com")
	waitProbeState(t, states, resolved("alice@x.com"))
	assert.Equal(t, 3, checker.callCount())
}

func TestProbeMalformedInputShortCircuits(t *testing.T) {
	checker := newFakeChecker()
	p, states := newTestProber(t, checker)

	p.Probe("al")
	s := waitProbeState(t, states, func(s ProbeState) bool { return s.Email == "" })
	assert.Nil(t, s.Result)
	assert.Nil(t, s.Err)
	assert.Zero(t, checker.callCount())
}

func TestProbeSurfacesRateLimit(t *testing.T) {
	checker := newFakeChecker()
	checker.errs["alice@x.com"] = &ProbeError{Code: CodeRateLimited, Message: "too many checks", RetryAfter: 42, Remaining: 0}

	p, states := newTestProber(t, checker)

	p.Probe("alice@x.com")
	s := waitProbeState(t, states, func(s ProbeState) bool { return s.Err != nil })
	assert.Equal(t, CodeRateLimited, s.Err.Code)
	assert.Equal(t, 42, s.Err.RetryAfter)
}

func TestResendOnlyForUnverifiedRegistrations(t *testing.T) {
	checker := newFakeChecker()
	checker.results["unverified@x.com"] = &ProbeResult{Email: "unverified@x.com", Status: StatusRegisteredUnverified}
	checker.results["verified@x.com"] = &ProbeResult{Email: "verified@x.com", Status: StatusRegisteredVerified}

	resender := &fakeResender{}
	p, states := newTestProber(t, checker, WithResender(resender))

	// No classification yet.
	assert.ErrorIs(t, p.Resend(context.Background()), ErrResendUnavailable)

	p.Probe("unverified@x.com")
	waitProbeState(t, states, resolved("unverified@x.com"))
	require.NoError(t, p.Resend(context.Background()))

	resender.mu.Lock()
	assert.Equal(t, []string{"unverified@x.com"}, resender.emails)
	resender.mu.Unlock()

	p.Probe("verified@x.com")
	waitProbeState(t, states, resolved("verified@x.com"))
	assert.ErrorIs(t, p.Resend(context.Background()), ErrResendUnavailable)
}

func TestProbeCloseDropsPendingResolutions(t *testing.T) {
	checker := newFakeChecker()
	release := make(chan struct{})
	checker.blocks["slow@test.com"] = release
	checker.results["slow@test.com"] = &ProbeResult{Email: "slow@test.com", Status: StatusRegisteredVerified}

	var updatesAfterClose atomic.Int64
	closed := make(chan struct{})
	p, err := NewProber(checker,
		WithDebounce(0),
		WithProbeListener(func(ProbeState) {
			select {
			case <-closed:
				updatesAfterClose.Add(1)
			default:
			}
		}),
	)
	require.NoError(t, err)

	p.Probe("slow@test.com")
	time.Sleep(10 * time.Millisecond)

	p.Close()
	close(closed)
	close(release)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, updatesAfterClose.Load())
	p.Probe("late@test.com") // no-op after close
	assert.Equal(t, 1, checker.callCount())
}
