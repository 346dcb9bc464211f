// Package unlock coordinates obtaining a usable identity private key.
//
// The Orchestrator moves Locked -> Unlocking -> Unlocked. Concurrent callers
// of EnsureUnlocked share one in-flight attempt, so a session never shows
// two authenticator prompts or two recovery dialogs at once. A failed
// attempt returns the machine to Locked with a typed Failure.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/identity"
	"github.com/egregoros/e2eedm-go/internal/keywrap"
	"github.com/egregoros/e2eedm-go/internal/metrics"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
	"github.com/egregoros/e2eedm-go/internal/passkey"
)

// State is the orchestrator state.
type State int

const (
	Locked State = iota
	Unlocking
	Unlocked
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reason classifies an unlock failure.
type Reason string

const (
	ReasonNotEnabled       Reason = "not_enabled"
	ReasonNoWrapper        Reason = "no_wrapper_available"
	ReasonPRFUnsupported   Reason = "prf_unsupported"
	ReasonUserCancelled    Reason = "user_cancelled"
	ReasonInvalidMnemonic  Reason = "invalid_mnemonic"
	ReasonDecryptionFailed Reason = "decryption_failed"
	ReasonKeyMismatch      Reason = "key_mismatch"
	ReasonNetwork          Reason = "network"
	ReasonCancelled        Reason = "cancelled"
	ReasonUnknown          Reason = "error"
)

var (
	// ErrNotEnabled is returned when the account has no E2EE identity.
	ErrNotEnabled = errors.New("encrypted DMs are not enabled")
	// ErrKeyMismatch is returned when a wrapper opens to a key other than
	// the account's active key.
	ErrKeyMismatch = errors.New("unwrapped key does not match the active key")
)

// Failure is returned by EnsureUnlocked when an attempt fails.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("unlock failed (%s): %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Classify maps an error from the unlock path to a Reason.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, ErrNotEnabled):
		return ReasonNotEnabled
	case errors.Is(err, keywrap.ErrNoWrapperAvailable):
		return ReasonNoWrapper
	case errors.Is(err, passkey.ErrPRFUnsupported):
		return ReasonPRFUnsupported
	case errors.Is(err, passkey.ErrUserCancelled):
		return ReasonUserCancelled
	case errors.Is(err, mnemonic.ErrInvalidLength),
		errors.Is(err, mnemonic.ErrInvalidWord),
		errors.Is(err, mnemonic.ErrInvalidChecksum):
		return ReasonInvalidMnemonic
	case errors.Is(err, ErrKeyMismatch):
		return ReasonKeyMismatch
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return ReasonDecryptionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	case errors.Is(err, apierrors.ErrNetwork):
		return ReasonNetwork
	}
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return ReasonNetwork
	}
	return ReasonUnknown
}

// Event is published on every state transition.
type Event struct {
	State    State
	Identity *identity.Identity
	// Err is set when the transition back to Locked was caused by a failure.
	Err error
}

// Config configures an Orchestrator.
type Config struct {
	Manager *identity.Manager
	// Unwrappers are the recovery mechanisms this device can service.
	Unwrappers []keywrap.Unwrapper
	// ActiveKIDHint lets the cached key be tried before the status fetch.
	ActiveKIDHint string
	Logger        logrus.FieldLogger
	Metrics       *metrics.Metrics
}

// Orchestrator is the per-session unlock state machine.
type Orchestrator struct {
	manager    *identity.Manager
	unwrappers []keywrap.Unwrapper
	log        logrus.FieldLogger
	metrics    *metrics.Metrics

	mu      sync.RWMutex
	state   State
	current *identity.Identity
	hint    string

	group singleflight.Group
	subs  *subscriptionManager
}

// New creates a locked Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		manager:    cfg.Manager,
		unwrappers: cfg.Unwrappers,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		hint:       cfg.ActiveKIDHint,
		subs:       newSubscriptionManager(),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Current returns the unlocked identity, or nil while locked.
func (o *Orchestrator) Current() *identity.Identity {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Subscribe registers fn for state transitions. Call the returned function
// to unsubscribe.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	return o.subs.subscribe(fn)
}

func (o *Orchestrator) transition(ev Event) {
	o.mu.Lock()
	o.state = ev.State
	if ev.State == Unlocked {
		o.current = ev.Identity
	} else {
		o.current = nil
	}
	o.mu.Unlock()

	o.log.WithField("state", ev.State).Debug("unlock state changed")
	o.subs.notify(ev)
}

// EnsureUnlocked returns the active identity, unlocking it if needed.
// Callers arriving while an attempt is in flight wait for that attempt.
func (o *Orchestrator) EnsureUnlocked(ctx context.Context) (*identity.Identity, error) {
	if id := o.Current(); id != nil {
		return id, nil
	}

	ch := o.group.DoChan("unlock", func() (any, error) {
		if id := o.Current(); id != nil {
			return id, nil
		}
		return o.unlock(ctx, true)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*identity.Identity), nil
	}
}

// TryCached unlocks from the local key cache only, never prompting. It
// reports whether the orchestrator is unlocked afterwards.
func (o *Orchestrator) TryCached(ctx context.Context) bool {
	if o.Current() != nil {
		return true
	}
	v, err, _ := o.group.Do("cached", func() (any, error) {
		if id := o.Current(); id != nil {
			return id, nil
		}
		return o.unlock(ctx, false)
	})
	return err == nil && v != nil
}

func (o *Orchestrator) unlock(ctx context.Context, prompt bool) (*identity.Identity, error) {
	if prompt {
		o.transition(Event{State: Unlocking})
	}

	id, err := o.attempt(ctx, prompt)
	if err != nil {
		if !prompt {
			return nil, err
		}
		f := &Failure{Reason: Classify(err), Err: err}
		o.metrics.Unlock(string(f.Reason))
		o.log.WithField("reason", f.Reason).WithError(err).Info("unlock failed")
		o.transition(Event{State: Locked, Err: f})
		return nil, f
	}

	o.metrics.Unlock("success")
	o.log.WithField("kid", id.KID).Info("identity unlocked")
	o.transition(Event{State: Unlocked, Identity: id})
	return id, nil
}

// errCacheMiss stops a non-prompting attempt.
var errCacheMiss = errors.New("no cached key")

func (o *Orchestrator) attempt(ctx context.Context, prompt bool) (*identity.Identity, error) {
	o.mu.RLock()
	hint := o.hint
	o.mu.RUnlock()

	if hint != "" {
		if id, ok := o.manager.LoadCachedPrivateKey(hint); ok {
			return id, nil
		}
	}

	status, err := o.manager.Status(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Enabled || status.ActiveKID == "" {
		return nil, ErrNotEnabled
	}

	if status.ActiveKID != hint {
		if id, ok := o.manager.LoadCachedPrivateKey(status.ActiveKID); ok {
			if status.ActiveKey == nil || crypto.PublicKeysEqual(id.PublicKey(), status.ActiveKey) {
				return id, nil
			}
			o.log.WithField("kid", status.ActiveKID).Warn("cached key does not match active key")
			o.manager.ForgetCachedKey(status.ActiveKID)
		}
	}
	if !prompt {
		return nil, errCacheMiss
	}

	rec, u, err := keywrap.Select(status.Records, o.unwrappers)
	if err != nil {
		return nil, err
	}

	log := o.log.WithFields(logrus.Fields{"kid": status.ActiveKID, "wrapper": rec.Kind()})
	log.Debug("unwrapping identity key")
	o.metrics.Prompt(string(rec.Kind()))

	id, err := identity.Recover(ctx, status.ActiveKID, rec, u)
	if err != nil {
		return nil, err
	}
	if status.ActiveKey != nil && !crypto.PublicKeysEqual(id.PublicKey(), status.ActiveKey) {
		return nil, ErrKeyMismatch
	}

	o.manager.CachePrivateKey(id)
	o.mu.Lock()
	o.hint = id.KID
	o.mu.Unlock()
	return id, nil
}

// Lock discards the unlocked identity and its cached copy, and drops the
// status memo.
func (o *Orchestrator) Lock() {
	o.mu.Lock()
	kid := o.hint
	if o.current != nil {
		kid = o.current.KID
	}
	wasLocked := o.state == Locked && o.current == nil
	o.mu.Unlock()

	if kid != "" {
		o.manager.ForgetCachedKey(kid)
	}
	o.manager.InvalidateStatus()

	if !wasLocked {
		o.transition(Event{State: Locked})
	}
}

// Close releases all subscribers.
func (o *Orchestrator) Close() {
	o.subs.clear()
}
