package registration

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glotta/registrar/pkg/logger"
)

const (
	defaultDebounce = 450 * time.Millisecond
	defaultCacheTTL = 2 * time.Minute
)

// ErrResendUnavailable rejects a resend when the last known classification is
// not an unverified registration.
var ErrResendUnavailable = errors.New("registration: resend is only available for unverified registrations")

// VerificationResender is the side channel for re-sending confirmation email.
type VerificationResender interface {
	ResendVerification(ctx context.Context, email string) error
}

// ProbeState is the prober's externally visible state.
type ProbeState struct {
	// Email is the normalized address the state describes; empty when idle.
	Email    string
	Checking bool
	Result   *ProbeResult
	Err      *ProbeError
}

// ProberOption customises a Prober.
type ProberOption func(*Prober)

// WithDebounce overrides the input-settle interval.
func WithDebounce(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d >= 0 {
			p.debounce = d
		}
	}
}

// WithCacheTTL overrides how long classifications stay fresh.
func WithCacheTTL(ttl time.Duration) ProberOption {
	return func(p *Prober) {
		if ttl > 0 {
			p.cacheTTL = ttl
		}
	}
}

// WithProberClock injects a time source for tests.
func WithProberClock(now func() time.Time) ProberOption {
	return func(p *Prober) {
		if now != nil {
			p.now = now
		}
	}
}

// WithProbeListener registers a callback invoked after every state change.
// The callback never fires after Close.
func WithProbeListener(fn func(ProbeState)) ProberOption {
	return func(p *Prober) {
		p.listener = fn
	}
}

// WithResender wires the resend-verification side channel.
func WithResender(r VerificationResender) ProberOption {
	return func(p *Prober) {
		p.resender = r
	}
}

type cachedProbe struct {
	result    *ProbeResult
	expiresAt time.Time
}

// Prober classifies email addresses against the registration service with
// debouncing, a per-address TTL cache, and last-issued-wins concurrency:
// however probes interleave, only the most recently issued probe's outcome
// ever lands in visible state.
type Prober struct {
	checker  StatusChecker
	resender VerificationResender
	log      *zap.Logger

	debounce time.Duration
	cacheTTL time.Duration
	now      func() time.Time
	listener func(ProbeState)

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	seq            uint64
	state          ProbeState
	cache          map[string]cachedProbe
	debounceTimer  *time.Timer
	inflightCancel context.CancelFunc
	closed         bool
}

// NewProber constructs an idle prober.
func NewProber(checker StatusChecker, opts ...ProberOption) (*Prober, error) {
	if checker == nil {
		return nil, errors.New("registration: status checker is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Prober{
		checker:  checker,
		log:      logger.WithModule("registration.prober"),
		debounce: defaultDebounce,
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		cache:    make(map[string]cachedProbe),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// State returns the current snapshot.
func (p *Prober) State() ProbeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Probe schedules a classification for the given input. Nothing fires until
// the input has been stable for the debounce interval; a newer Probe within
// the window supersedes the pending one. Malformed input short-circuits to
// idle without a network call.
func (p *Prober) Probe(email string) {
	normalized, ok := normalizeEmail(email)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stopDebounceLocked()

	if !ok {
		// Nothing to probe; supersede any in-flight work.
		p.supersedeLocked()
		p.state = ProbeState{}
		p.mu.Unlock()
		p.notify()
		return
	}

	if p.debounce == 0 {
		p.launchLocked(normalized, false)
		return
	}

	p.debounceTimer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.launchLocked(normalized, false)
	})
	p.mu.Unlock()
}

// ForceCheck fires immediately, bypassing both the debounce window and the
// cache.
func (p *Prober) ForceCheck(email string) {
	normalized, ok := normalizeEmail(email)
	if !ok {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stopDebounceLocked()
	p.launchLocked(normalized, true)
}

// Resend asks the provider for a fresh confirmation email. It is valid only
// when the last classification is registered_unverified.
func (p *Prober) Resend(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.resender == nil {
		p.mu.Unlock()
		return ErrResendUnavailable
	}
	result := p.state.Result
	email := p.state.Email
	p.mu.Unlock()

	if result == nil || result.Status != StatusRegisteredUnverified {
		return ErrResendUnavailable
	}
	return p.resender.ResendVerification(ctx, email)
}

// Close tears the prober down; pending debounces and in-flight probes are
// cancelled and no state update or listener call happens afterwards.
func (p *Prober) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.seq++
	p.stopDebounceLocked()
	p.supersedeLocked()
	p.mu.Unlock()

	p.cancel()
}

// launchLocked starts (or satisfies from cache) a probe for a normalized
// address. It is entered holding the mutex and releases it.
func (p *Prober) launchLocked(email string, force bool) {
	p.supersedeLocked()
	p.pruneCacheLocked()

	if !force {
		if item, ok := p.cache[email]; ok && p.now().Before(item.expiresAt) {
			p.state = ProbeState{Email: email, Result: item.result}
			p.mu.Unlock()
			p.notify()
			return
		}
	}

	p.seq++
	mine := p.seq
	ctx, cancel := context.WithCancel(p.ctx)
	p.inflightCancel = cancel
	p.state = ProbeState{Email: email, Checking: true, Result: p.state.Result}
	p.mu.Unlock()
	p.notify()

	go func() {
		result, err := p.checker.Check(ctx, email)
		cancel()

		p.mu.Lock()
		if p.closed || p.seq != mine {
			// Superseded or torn down; this outcome never becomes visible.
			p.mu.Unlock()
			return
		}

		if err != nil {
			p.state = ProbeState{Email: email, Err: asProbeError(err)}
			p.mu.Unlock()
			p.notify()
			return
		}

		p.cache[email] = cachedProbe{result: result, expiresAt: p.now().Add(p.cacheTTL)}
		p.state = ProbeState{Email: email, Result: result}
		p.mu.Unlock()
		p.notify()
	}()
}

// supersedeLocked invalidates any in-flight probe's claim on visible state.
func (p *Prober) supersedeLocked() {
	p.seq++
	if p.inflightCancel != nil {
		p.inflightCancel()
		p.inflightCancel = nil
	}
}

func (p *Prober) stopDebounceLocked() {
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
		p.debounceTimer = nil
	}
}

func (p *Prober) pruneCacheLocked() {
	now := p.now()
	for email, item := range p.cache {
		if !now.Before(item.expiresAt) {
			delete(p.cache, email)
		}
	}
}

func (p *Prober) notify() {
	p.mu.Lock()
	if p.closed || p.listener == nil {
		p.mu.Unlock()
		return
	}
	fn := p.listener
	snapshot := p.state
	p.mu.Unlock()

	fn(snapshot)
}

func asProbeError(err error) *ProbeError {
	var perr *ProbeError
	if errors.As(err, &perr) {
		return perr
	}
	return &ProbeError{Code: CodeInternal, Message: "status check failed", Details: err}
}

// normalizeEmail lower-cases and trims the input, then validates it as an
// addressable mailbox.
func normalizeEmail(email string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", false
	}
	return normalized, true
}
