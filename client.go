package e2eedm

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/egregoros/e2eedm-go/internal/api"
	"github.com/egregoros/e2eedm-go/internal/dm"
	"github.com/egregoros/e2eedm-go/internal/identity"
	"github.com/egregoros/e2eedm-go/internal/keystore"
	"github.com/egregoros/e2eedm-go/internal/keywrap"
	"github.com/egregoros/e2eedm-go/internal/metrics"
	"github.com/egregoros/e2eedm-go/internal/passkey"
	"github.com/egregoros/e2eedm-go/internal/resolver"
	"github.com/egregoros/e2eedm-go/internal/unlock"
)

// Placeholders shown by Render when a message cannot be displayed.
const (
	LockedPlaceholder = "Encrypted message. Unlock to read."
	FailedPlaceholder = "This message could not be decrypted."
)

// Client is one signed-in session. It owns the status memo, the local key
// cache, the actor key cache and the unlock state machine. A Client is safe
// for concurrent use.
type Client struct {
	apiClient    *api.Client
	manager      *identity.Manager
	orchestrator *unlock.Orchestrator
	resolver     *resolver.Resolver
	store        keystore.Store
	metrics      *metrics.Metrics
	log          logrus.FieldLogger

	actorID       string
	userName      string
	rpID          string
	authenticator Authenticator

	mu     sync.RWMutex
	closed bool
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(cfg *clientConfig, log logrus.FieldLogger, m *metrics.Metrics) (*api.Client, error) {
	apiOpts := []api.Option{
		api.WithBaseURL(cfg.baseURL),
		api.WithRetries(cfg.retries),
		api.WithLogger(log.WithField("component", "api")),
		api.WithMetrics(m),
	}
	if cfg.timeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.timeout))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn))
	}
	if cfg.csrfToken != "" {
		apiOpts = append(apiOpts, api.WithCSRFToken(cfg.csrfToken))
	}

	apiClient, err := api.New(cfg.token, apiOpts...)
	if err != nil {
		return nil, err
	}

	if cfg.httpClient != nil {
		apiClient.SetHTTPClient(cfg.httpClient)
	}

	return apiClient, nil
}

// unwrappers lists the recovery mechanisms this client can service.
func unwrappers(cfg *clientConfig) []keywrap.Unwrapper {
	var us []keywrap.Unwrapper
	if cfg.authenticator != nil {
		us = append(us, &keywrap.PasskeyUnwrapper{Authenticator: cfg.authenticator, RPID: cfg.rpID})
	}
	if cfg.prompt != nil {
		us = append(us, &keywrap.MnemonicUnwrapper{Prompt: keywrap.PromptFunc(cfg.prompt)})
	}
	return us
}

// New creates a client. No network calls are made until an operation needs
// one.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		retries: api.DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.rpID == "" {
		if u, err := url.Parse(cfg.baseURL); err == nil {
			cfg.rpID = u.Hostname()
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	log := logger.WithField("actor", cfg.actorID)

	m := metrics.New(cfg.registerer)

	apiClient, err := buildAPIClient(cfg, log, m)
	if err != nil {
		return nil, err
	}

	var store keystore.Store = keystore.NewMemoryStore()
	if cfg.store != nil {
		store = cfg.store
	}

	manager := identity.NewManager(apiClient, store, log.WithField("component", "identity"))

	c := &Client{
		apiClient: apiClient,
		manager:   manager,
		orchestrator: unlock.New(unlock.Config{
			Manager:       manager,
			Unwrappers:    unwrappers(cfg),
			ActiveKIDHint: cfg.activeKIDHint,
			Logger:        log.WithField("component", "unlock"),
			Metrics:       m,
		}),
		resolver: resolver.New(apiClient, resolver.Config{
			Limit:   cfg.lookupLimit,
			Burst:   cfg.lookupBurst,
			Logger:  log.WithField("component", "resolver"),
			Metrics: m,
		}),
		store:         store,
		metrics:       m,
		log:           log,
		actorID:       cfg.actorID,
		userName:      cfg.userName,
		rpID:          cfg.rpID,
		authenticator: cfg.authenticator,
	}

	return c, nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// Status returns the account's E2EE status, fetched once per session.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	s, err := c.manager.Status(ctx)
	if err != nil {
		return nil, wrapError(err)
	}

	status := &Status{
		Enabled:     s.Enabled,
		ActiveKID:   s.ActiveKID,
		Fingerprint: s.Fingerprint,
	}
	for _, rec := range s.Records {
		status.Wrappers = append(status.Wrappers, string(rec.Kind()))
	}
	return status, nil
}

// EnablePasskey creates a passkey on the configured authenticator and
// registers a new identity key wrapped under its PRF output. The client is
// unlocked afterwards.
func (c *Client) EnablePasskey(ctx context.Context) (*Registration, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.authenticator == nil {
		return nil, ErrPRFUnsupported
	}

	rp := passkey.RelyingParty{ID: c.rpID, Name: passkey.DefaultRPName}
	user := passkey.User{
		ID:          passkey.UserHandle(c.actorID),
		Name:        c.userName,
		DisplayName: c.userName,
	}

	reg, err := c.manager.EnableWithPasskey(ctx, c.authenticator, rp, user)
	if err != nil {
		return nil, wrapError(err)
	}
	c.orchestrator.TryCached(ctx)

	return &Registration{KID: reg.Identity.KID, Fingerprint: reg.Fingerprint}, nil
}

// EnableRecoveryPhrase registers a new identity key wrapped under a fresh
// 24-word recovery phrase and returns the phrase. The client is unlocked
// afterwards.
func (c *Client) EnableRecoveryPhrase(ctx context.Context) (*Registration, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	reg, err := c.manager.EnableWithRecoveryPhrase(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	c.orchestrator.TryCached(ctx)

	return &Registration{
		KID:            reg.Identity.KID,
		Fingerprint:    reg.Fingerprint,
		RecoveryPhrase: reg.RecoveryPhrase,
	}, nil
}

// EnsureUnlocked returns the identity, prompting through the configured
// authenticator or recovery phrase prompt if it is not yet unlocked.
// Concurrent callers share one prompt.
func (c *Client) EnsureUnlocked(ctx context.Context) (*Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	id, err := c.orchestrator.EnsureUnlocked(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return id, nil
}

// State returns the unlock state.
func (c *Client) State() State {
	return c.orchestrator.State()
}

// OnStateChange registers fn for every unlock state transition.
func (c *Client) OnStateChange(fn func(Event)) Subscription {
	return &internalSubscription{cancel: c.orchestrator.Subscribe(fn)}
}

// OnUnlock registers fn to run each time the client becomes unlocked, so
// pending renders can retry.
func (c *Client) OnUnlock(fn func()) Subscription {
	return c.OnStateChange(func(ev Event) {
		if ev.State == StateUnlocked {
			fn()
		}
	})
}

func (c *Client) self() (string, error) {
	if c.actorID == "" {
		return "", ErrMissingActorID
	}
	return c.actorID, nil
}

// Encrypt seals plaintext for recipientActorID's current key.
func (c *Client) Encrypt(ctx context.Context, recipientActorID, plaintext string) (*Envelope, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	key, err := c.resolver.ResolveKey(ctx, recipientActorID, "")
	if err != nil {
		return nil, wrapError(err)
	}
	if key == nil {
		c.metrics.Envelope("encrypt", "no_key")
		return nil, fmt.Errorf("%w: %s", ErrRecipientKeyUnavailable, recipientActorID)
	}
	return c.EncryptTo(ctx, key, plaintext)
}

// EncryptTo seals plaintext for an already resolved key.
func (c *Client) EncryptTo(ctx context.Context, recipient *ActorKey, plaintext string) (*Envelope, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if recipient == nil || recipient.PublicKey == nil {
		return nil, ErrRecipientKeyUnavailable
	}
	me, err := c.self()
	if err != nil {
		return nil, err
	}

	id, err := c.EnsureUnlocked(ctx)
	if err != nil {
		return nil, err
	}

	env, err := dm.Encrypt(
		[]byte(plaintext),
		dm.Party{APID: me, KID: id.KID}, id.PrivateKey,
		dm.Party{APID: recipient.ActorID, KID: recipient.KID}, recipient.PublicKey,
	)
	if err != nil {
		c.metrics.Envelope("encrypt", "error")
		return nil, err
	}
	c.metrics.Envelope("encrypt", "ok")
	c.log.WithFields(logrus.Fields{"kid": id.KID, "recipient": recipient.ActorID}).Debug("encrypted message")
	return env, nil
}

// Decrypt opens env, unlocking if needed. The signed-in actor must be the
// sender or the recipient.
func (c *Client) Decrypt(ctx context.Context, env *Envelope) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	id, err := c.EnsureUnlocked(ctx)
	if err != nil {
		return "", err
	}
	return c.decrypt(ctx, env, id)
}

func (c *Client) decrypt(ctx context.Context, env *Envelope, id *Identity) (string, error) {
	me, err := c.self()
	if err != nil {
		return "", err
	}
	if err := env.Validate(); err != nil {
		c.metrics.Envelope("decrypt", "malformed")
		return "", &DecryptionError{Stage: "envelope", Err: err}
	}

	self, other, err := env.Counterparty(me)
	if err != nil {
		c.metrics.Envelope("decrypt", "malformed")
		return "", &DecryptionError{Stage: "envelope", Err: err}
	}
	if self.KID != id.KID {
		c.metrics.Envelope("decrypt", "kid_mismatch")
		return "", &DecryptionError{
			Stage: "key",
			Err:   fmt.Errorf("%w: sealed for key %s, active key is %s", ErrDecryptionFailed, self.KID, id.KID),
		}
	}

	otherKey, err := c.resolver.ResolveKey(ctx, other.APID, other.KID)
	if err != nil {
		return "", wrapError(err)
	}
	if otherKey == nil {
		c.metrics.Envelope("decrypt", "no_key")
		return "", &DecryptionError{Stage: "key", Err: fmt.Errorf("%w: %s", ErrRecipientKeyUnavailable, other.APID)}
	}

	plaintext, err := dm.Decrypt(env, id.PrivateKey, otherKey.PublicKey)
	if err != nil {
		c.metrics.Envelope("decrypt", "error")
		return "", &DecryptionError{Stage: "aead", Err: err}
	}
	c.metrics.Envelope("decrypt", "ok")
	return string(plaintext), nil
}

// Render decrypts env for display without ever prompting. If the identity
// is not unlocked and no cached key exists, or decryption fails, the result
// carries a placeholder instead of an error.
func (c *Client) Render(ctx context.Context, env *Envelope) *Rendered {
	if env == nil {
		return &Rendered{Failed: true, Err: &DecryptionError{Stage: "envelope", Err: ErrMalformedEnvelope}, Text: FailedPlaceholder}
	}
	r := &Rendered{Sender: env.Sender}
	if err := c.checkOpen(); err != nil {
		r.Failed, r.Err, r.Text = true, err, FailedPlaceholder
		return r
	}

	var id *Identity
	if c.orchestrator.TryCached(ctx) {
		id = c.orchestrator.Current()
	}
	if id == nil {
		r.Locked, r.Text = true, LockedPlaceholder
		return r
	}

	text, err := c.decrypt(ctx, env, id)
	if err != nil {
		c.log.WithError(err).Debug("render failed")
		r.Failed, r.Err, r.Text = true, err, FailedPlaceholder
		return r
	}
	r.Text = text
	return r
}

// ResolveKey returns actorID's key with the given kid, or its current key
// when kid is empty. It returns nil, nil when the actor has no usable key.
func (c *Client) ResolveKey(ctx context.Context, actorID, kid string) (*ActorKey, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	k, err := c.resolver.ResolveKey(ctx, actorID, kid)
	return k, wrapError(err)
}

// ResolveHandle resolves a federation handle such as "@bob@remote.example".
func (c *Client) ResolveHandle(ctx context.Context, handle string) (*ActorKey, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	k, err := c.resolver.ResolveKeyByHandle(ctx, handle)
	return k, wrapError(err)
}

// Lock forgets the unlocked identity and its cached copy. The next
// operation that needs the key prompts again.
func (c *Client) Lock() {
	c.orchestrator.Lock()
}

// Logout locks the client and clears every local cache.
func (c *Client) Logout() {
	c.orchestrator.Lock()
	c.manager.ClearCache()
	c.resolver.Reset()
}

// Close releases subscribers and the key store. The client cannot be used
// afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.orchestrator.Close()
	return c.store.Close()
}
