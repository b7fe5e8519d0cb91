package registration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/pkg/logger"
)

// Default verification polling schedule. Manual "check now" bypasses the
// timer but never the underlying confirmation check.
const (
	defaultBackoffBase = 3 * time.Second
	defaultBackoffMult = 1.5
	defaultBackoffCap  = 30 * time.Second
)

// SubmitInput is the validated registration form.
type SubmitInput struct {
	AttemptID     string
	AdminEmail    string
	AdminPassword string
	Company       CompanyPayload
}

// State is an immutable snapshot of the controller, safe to hand to the UI.
type State struct {
	Phase      Phase
	Err        *FlowError
	Result     *ProvisionResult
	AttemptID  string
	NextPollAt time.Time
	PollCount  int
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithBackoff overrides the verification polling schedule.
func WithBackoff(base time.Duration, mult float64, cap time.Duration) ControllerOption {
	return func(c *Controller) {
		if base > 0 {
			c.backoffBase = base
		}
		if mult >= 1 {
			c.backoffMult = mult
		}
		if cap > 0 {
			c.backoffCap = cap
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithListener registers a callback invoked after every state change. The
// callback never fires after Close.
func WithListener(fn func(State)) ControllerOption {
	return func(c *Controller) {
		c.listener = fn
	}
}

// WithProvisionTimeout bounds the provisioning call.
func WithProvisionTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.provisionTimeout = d
		}
	}
}

// Controller drives the registration submission flow:
//
//	idle → signingUp → awaitingVerification → verifying → persisting → succeeded|failed
//
// Transitions are serialized; a trigger arriving while one is settling is
// rejected with ErrTransitionInFlight. All scheduling runs through a single
// next-wake timer so backoff and cancellation stay testable.
type Controller struct {
	provider    identity.Client
	provisioner Provisioner
	log         *zap.Logger

	backoffBase      time.Duration
	backoffMult      float64
	backoffCap       time.Duration
	provisionTimeout time.Duration
	now              func() time.Time
	listener         func(State)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	phase      Phase
	attempt    *Attempt
	lastErr    *FlowError
	result     *ProvisionResult
	delay      time.Duration
	nextPollAt time.Time
	pollCount  int
	busy       bool
	gen        uint64
	closed     bool
	timer      *time.Timer
}

// NewController constructs an idle controller.
func NewController(provider identity.Client, provisioner Provisioner, opts ...ControllerOption) (*Controller, error) {
	if provider == nil {
		return nil, errors.New("registration: identity client is required")
	}
	if provisioner == nil {
		return nil, errors.New("registration: provisioner is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		provider:         provider,
		provisioner:      provisioner,
		log:              logger.WithModule("registration"),
		backoffBase:      defaultBackoffBase,
		backoffMult:      defaultBackoffMult,
		backoffCap:       defaultBackoffCap,
		provisionTimeout: defaultProvisionTimeout,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
		phase:            PhaseIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	s := State{
		Phase:      c.phase,
		Err:        c.lastErr,
		Result:     c.result,
		NextPollAt: c.nextPollAt,
		PollCount:  c.pollCount,
	}
	if c.attempt != nil {
		s.AttemptID = c.attempt.AttemptID
	}
	return s
}

// Submit starts a new attempt from idle. Flow failures land in State, not in
// the returned error; the error reports precondition violations only.
func (c *Controller) Submit(input SubmitInput) error {
	input.AdminEmail = strings.ToLower(strings.TrimSpace(input.AdminEmail))

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.busy:
		c.mu.Unlock()
		return ErrTransitionInFlight
	case c.phase != PhaseIdle:
		c.mu.Unlock()
		return ErrNotIdle
	}

	c.attempt = newAttempt(input, c.now())
	c.phase = PhaseSigningUp
	c.lastErr = nil
	c.result = nil
	c.busy = true
	c.gen++
	mine := c.gen
	email, password := c.attempt.AdminEmail, c.attempt.password
	companyName := c.attempt.Company.Name
	c.mu.Unlock()
	c.notify()

	result, err := c.provider.SignUp(c.ctx, email, password, map[string]any{"company_name": companyName})

	c.mu.Lock()
	if c.dropLocked(mine) {
		c.mu.Unlock()
		return nil
	}
	c.busy = false

	if err != nil {
		c.failLocked(classifySignUpError(err))
		c.mu.Unlock()
		c.notify()
		return nil
	}

	if result.Session != nil {
		// Provider did not require confirmation; provision immediately.
		c.mu.Unlock()
		c.notify()
		c.persist(mine)
		return nil
	}

	c.enterAwaitingLocked(c.backoffBase)
	c.mu.Unlock()
	c.notify()
	return nil
}

// CheckNow is the manual override: it fires a verification check immediately,
// bypassing the backoff timer.
func (c *Controller) CheckNow() error {
	return c.verify(true)
}

// Retry re-enters the verification loop after a failure, keeping the attempt
// payload so the user does not re-enter data.
func (c *Controller) Retry() error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.busy:
		c.mu.Unlock()
		return ErrTransitionInFlight
	case c.phase != PhaseFailed || c.attempt == nil:
		c.mu.Unlock()
		return ErrNotIdle
	case c.lastErr != nil && !c.lastErr.Retryable:
		// A duplicate email or rejected payload fails the same way on every
		// attempt; re-entering the loop would sign into the existing account.
		c.mu.Unlock()
		return ErrNotRetryable
	}

	c.lastErr = nil
	c.delay = c.backoffBase
	c.enterAwaitingLocked(0)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Reset returns the controller to idle from any state, wiping the attempt and
// its credential material. In-flight resolutions are dropped.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.gen++
	c.busy = false
	c.stopTimerLocked()
	c.attempt.clearSecrets()
	c.attempt = nil
	c.phase = PhaseIdle
	c.lastErr = nil
	c.result = nil
	c.delay = 0
	c.nextPollAt = time.Time{}
	c.pollCount = 0
	c.mu.Unlock()
	c.notify()
	return nil
}

// Close tears the controller down: pending timers are cancelled, in-flight
// calls are aborted, and no state update or listener call happens afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.stopTimerLocked()
	c.attempt.clearSecrets()
	c.mu.Unlock()

	c.cancel()
}

// verify drives awaitingVerification → verifying → persisting|awaitingVerification.
func (c *Controller) verify(manual bool) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.busy:
		c.mu.Unlock()
		if manual {
			return ErrTransitionInFlight
		}
		return nil
	case c.phase != PhaseAwaitingVerification:
		c.mu.Unlock()
		if manual {
			return ErrNotIdle
		}
		return nil
	}

	c.stopTimerLocked()
	c.phase = PhaseVerifying
	c.busy = true
	mine := c.gen
	email, password := c.attempt.AdminEmail, c.attempt.password
	c.mu.Unlock()
	c.notify()

	confirmed, ferr := c.checkConfirmation(email, password)

	c.mu.Lock()
	if c.dropLocked(mine) {
		c.mu.Unlock()
		return nil
	}
	c.busy = false

	switch {
	case ferr != nil:
		c.failLocked(ferr)
		c.mu.Unlock()
		c.notify()
	case confirmed:
		c.mu.Unlock()
		c.persist(mine)
	default:
		// Email still unconfirmed: expected and retryable, never an error.
		c.enterAwaitingLocked(c.nextDelayLocked())
		c.mu.Unlock()
		c.notify()
	}
	return nil
}

// checkConfirmation establishes a session defensively before relying on it.
// Returning (false, nil) means "not yet" — re-enter the polling loop.
func (c *Controller) checkConfirmation(email, password string) (bool, *FlowError) {
	session, err := c.provider.GetSession(c.ctx)
	if err != nil {
		c.log.Warn("session fetch failed, will retry", zap.Error(err))
		return false, nil
	}

	if session == nil {
		if _, err := c.provider.SignIn(c.ctx, email, password); err != nil {
			switch {
			case errors.Is(err, identity.ErrEmailNotConfirmed):
				return false, nil
			case errors.Is(err, identity.ErrSessionMissing):
				return false, nil
			case isRetryableProviderError(err):
				c.log.Warn("sign-in transient failure, will retry", zap.Error(err))
				return false, nil
			default:
				return false, classifySignInError(err)
			}
		}
	}

	user, err := c.provider.CurrentUser(c.ctx)
	if err != nil {
		if errors.Is(err, identity.ErrSessionMissing) || errors.Is(err, identity.ErrEmailNotConfirmed) || isRetryableProviderError(err) {
			return false, nil
		}
		return false, classifySignInError(err)
	}

	return user.EmailConfirmedAt != nil, nil
}

// persist drives the provisioning call; terminal on both paths.
func (c *Controller) persist(mine uint64) {
	c.mu.Lock()
	if c.dropLocked(mine) {
		c.mu.Unlock()
		return
	}
	c.phase = PhasePersisting
	c.busy = true
	attemptID := c.attempt.AttemptID
	company := c.attempt.Company
	c.mu.Unlock()
	c.notify()

	ctx, cancel := context.WithTimeout(c.ctx, c.provisionTimeout)
	result, err := c.provisioner.Provision(ctx, attemptID, company)
	cancel()

	c.mu.Lock()
	if c.dropLocked(mine) {
		c.mu.Unlock()
		return
	}
	c.busy = false

	if err != nil {
		c.failLocked(asFlowError(err))
		c.mu.Unlock()
		c.notify()
		return
	}

	c.phase = PhaseSucceeded
	c.result = result
	c.attempt.clearSecrets()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.notify()
}

// enterAwaitingLocked schedules the next poll through the single wake timer.
func (c *Controller) enterAwaitingLocked(wait time.Duration) {
	c.phase = PhaseAwaitingVerification
	if c.delay == 0 {
		c.delay = c.backoffBase
	}
	c.nextPollAt = c.now().Add(wait)
	c.pollCount++

	mine := c.gen
	c.stopTimerLocked()
	c.timer = time.AfterFunc(wait, func() {
		c.mu.Lock()
		stale := c.closed || c.gen != mine
		c.mu.Unlock()
		if stale {
			return
		}
		_ = c.verify(false)
	})
}

// nextDelayLocked advances the exponential backoff, capped.
func (c *Controller) nextDelayLocked() time.Duration {
	if c.delay == 0 {
		c.delay = c.backoffBase
		return c.delay
	}
	next := time.Duration(float64(c.delay) * c.backoffMult)
	if next > c.backoffCap {
		next = c.backoffCap
	}
	c.delay = next
	return c.delay
}

func (c *Controller) failLocked(ferr *FlowError) {
	c.phase = PhaseFailed
	c.lastErr = ferr
	c.stopTimerLocked()
}

// dropLocked reports whether an async resolution belongs to a superseded
// generation (reset or close happened while it was in flight).
func (c *Controller) dropLocked(mine uint64) bool {
	return c.closed || c.gen != mine
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	if c.closed || c.listener == nil {
		c.mu.Unlock()
		return
	}
	fn := c.listener
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	fn(snapshot)
}

func classifySignUpError(err error) *FlowError {
	var perr *identity.ProviderError
	if errors.As(err, &perr) {
		switch {
		case perr.Kind == identity.KindNetwork:
			return &FlowError{Code: CodeNetwork, Message: "could not reach the identity service", Retryable: true, Details: err}
		case perr.Status == 422 || perr.Status == 400:
			if strings.Contains(strings.ToLower(perr.Message), "already registered") {
				return &FlowError{Code: CodeDuplicateEmail, Message: "an account with this email already exists", Details: err}
			}
			return &FlowError{Code: CodeValidation, Message: perr.Message, Details: err}
		case perr.Status == 429:
			return &FlowError{Code: CodeRateLimited, Message: "too many attempts, slow down", Retryable: true, Details: err}
		}
	}
	return &FlowError{Code: CodeInternal, Message: "sign-up failed, please try again", Retryable: true, Details: err}
}

func classifySignInError(err error) *FlowError {
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return &FlowError{Code: CodeValidation, Message: "email or password is incorrect", Details: err}
	}
	return &FlowError{Code: CodeInternal, Message: "verification failed, please try again", Retryable: true, Details: err}
}

func isRetryableProviderError(err error) bool {
	var perr *identity.ProviderError
	return errors.As(err, &perr) && perr.Retryable()
}

func asFlowError(err error) *FlowError {
	var ferr *FlowError
	if errors.As(err, &ferr) {
		return ferr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FlowError{Code: CodeNetwork, Message: "the registration service timed out", Retryable: true, Details: err}
	}
	return &FlowError{Code: CodeInternal, Message: "registration failed, please try again", Retryable: true, Details: err}
}
