package identity

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/egregoros/e2eedm-go/internal/api"
	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/keystore"
	"github.com/egregoros/e2eedm-go/internal/keywrap"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
	"github.com/egregoros/e2eedm-go/internal/passkey"
)

// Service is the subset of the server API the manager needs.
type Service interface {
	GetStatus(ctx context.Context) (*api.StatusResponse, error)
	RegisterPasskey(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error)
	RegisterRecoveryCode(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error)
}

// Status is the parsed E2EE status of the signed-in account.
type Status struct {
	Enabled     bool
	ActiveKID   string
	ActiveKey   *ecdh.PublicKey
	Fingerprint string
	Records     []keywrap.Record
}

// Registration is the outcome of enabling encrypted DMs.
type Registration struct {
	Identity    *Identity
	Fingerprint string
	// RecoveryPhrase is set only for recovery-phrase registrations. It is
	// shown to the user once and never stored.
	RecoveryPhrase string
}

// Manager holds the per-session status memo and local key cache.
type Manager struct {
	svc   Service
	store keystore.Store
	log   logrus.FieldLogger

	mu     sync.Mutex
	status *Status
	gen    uint64
	group  singleflight.Group
}

// NewManager creates a Manager. A nil store disables local caching.
func NewManager(svc Service, store keystore.Store, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{svc: svc, store: store, log: logger}
}

// Status returns the memoized status, fetching it once per session.
// Concurrent callers share one request.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	m.mu.Lock()
	if m.status != nil {
		s := m.status
		m.mu.Unlock()
		return s, nil
	}
	gen := m.gen
	m.mu.Unlock()

	// Keyed by generation so callers after InvalidateStatus never join an
	// older request.
	ch := m.group.DoChan("status:"+strconv.FormatUint(gen, 10), func() (any, error) {
		m.mu.Lock()
		if m.status != nil && m.gen == gen {
			s := m.status
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		resp, err := m.svc.GetStatus(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s := m.parseStatus(resp)

		m.mu.Lock()
		if m.gen == gen {
			m.status = s
		}
		m.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Status), nil
	}
}

func (m *Manager) parseStatus(resp *api.StatusResponse) *Status {
	s := &Status{Enabled: resp.Enabled}

	if resp.ActiveKey != nil {
		s.ActiveKID = resp.ActiveKey.KID
		s.Fingerprint = resp.ActiveKey.Fingerprint
		if j := resp.ActiveKey.JWK(); j != nil {
			pub, err := crypto.ParsePublicJWK(*j)
			if err != nil {
				m.log.WithError(err).WithField("kid", s.ActiveKID).Warn("active key is not a usable P-256 key")
			} else {
				s.ActiveKey = pub
				if s.Fingerprint == "" {
					s.Fingerprint = crypto.Fingerprint(pub)
				}
			}
		}
	}

	records, errs := keywrap.ParseRecords(resp.Wrappers)
	for _, err := range errs {
		m.log.WithError(err).Debug("skipping wrapper record")
	}
	s.Records = records
	return s
}

// InvalidateStatus drops the memo so the next Status call refetches.
func (m *Manager) InvalidateStatus() {
	m.mu.Lock()
	m.status = nil
	m.gen++
	m.mu.Unlock()
}

// CachePrivateKey stores id on the device. Failures are logged and ignored.
func (m *Manager) CachePrivateKey(id *Identity) {
	if m.store == nil || id == nil {
		return
	}
	data, err := id.MarshalPrivateJWK()
	if err != nil {
		m.log.WithError(err).Warn("could not encode private key for cache")
		return
	}
	defer crypto.Wipe(data)

	if err := m.store.Save(id.KID, data); err != nil {
		m.log.WithError(err).WithField("kid", id.KID).Warn("could not cache private key")
	}
}

// LoadCachedPrivateKey returns the cached identity for kid, if any. A
// corrupt entry is removed.
func (m *Manager) LoadCachedPrivateKey(kid string) (*Identity, bool) {
	if m.store == nil || kid == "" {
		return nil, false
	}
	data, err := m.store.Load(kid)
	if err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			m.log.WithError(err).WithField("kid", kid).Warn("could not read key cache")
		}
		return nil, false
	}
	defer crypto.Wipe(data)

	id, err := ParsePrivateJWK(kid, data)
	if err != nil {
		m.log.WithError(err).WithField("kid", kid).Warn("discarding unreadable cached key")
		m.ForgetCachedKey(kid)
		return nil, false
	}
	return id, true
}

// ForgetCachedKey removes one cached key.
func (m *Manager) ForgetCachedKey(kid string) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(kid); err != nil {
		m.log.WithError(err).WithField("kid", kid).Warn("could not remove cached key")
	}
}

// ClearCache removes every cached key.
func (m *Manager) ClearCache() {
	if m.store == nil {
		return
	}
	if err := m.store.Clear(); err != nil {
		m.log.WithError(err).Warn("could not clear key cache")
	}
}

// Recover re-derives the wrapping key for rec through u and opens the
// wrapped private key.
func Recover(ctx context.Context, kid string, rec keywrap.Record, u keywrap.Unwrapper) (*Identity, error) {
	key, err := u.DeriveKey(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	return Unwrap(kid, rec.Wrapped(), key, rec.Nonce())
}

// EnableWithPasskey creates a PRF-capable credential, asserts it to obtain
// the PRF output, and registers a fresh identity wrapped under it.
func (m *Manager) EnableWithPasskey(ctx context.Context, auth passkey.Authenticator, rp passkey.RelyingParty, user passkey.User) (*Registration, error) {
	if auth == nil {
		return nil, passkey.ErrPRFUnsupported
	}

	prfSalt, err := crypto.RandomBytes(passkey.PRFSaltSize)
	if err != nil {
		return nil, err
	}
	opts, err := passkey.NewCreationOptions(rp, user, prfSalt)
	if err != nil {
		return nil, err
	}
	cred, err := auth.Create(ctx, opts)
	if err != nil {
		return nil, err
	}

	prf, err := passkey.EvaluatePRF(ctx, auth, rp.ID, cred.RawID, prfSalt)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(prf)

	key, rec, err := keywrap.NewPasskeyRecord(cred.RawID, prfSalt, prf)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	return m.register(ctx, key, rec, m.svc.RegisterPasskey)
}

// EnableWithRecoveryPhrase registers a fresh identity wrapped under a new
// 24-word recovery phrase and returns the phrase.
func (m *Manager) EnableWithRecoveryPhrase(ctx context.Context) (*Registration, error) {
	entropy, err := mnemonic.NewEntropy()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(entropy)

	phrase, err := mnemonic.Encode(entropy)
	if err != nil {
		return nil, err
	}

	key, rec, err := keywrap.NewMnemonicRecord(entropy)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	reg, err := m.register(ctx, key, rec, m.svc.RegisterRecoveryCode)
	if err != nil {
		return nil, err
	}
	reg.RecoveryPhrase = phrase
	return reg, nil
}

type registerFunc func(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error)

func (m *Manager) register(ctx context.Context, key []byte, rec keywrap.Record, send registerFunc) (*Registration, error) {
	id, err := Generate()
	if err != nil {
		return nil, err
	}

	wrapped, err := Wrap(id, key, rec.Nonce())
	if err != nil {
		return nil, err
	}
	switch r := rec.(type) {
	case *keywrap.PasskeyRecord:
		r.WrappedPrivateKey = wrapped
	case *keywrap.MnemonicRecord:
		r.WrappedPrivateKey = wrapped
	}

	wire, err := rec.Wire()
	if err != nil {
		return nil, err
	}

	log := m.log.WithFields(logrus.Fields{"kid": id.KID, "wrapper": rec.Kind()})
	resp, err := send(ctx, &api.RegisterRequest{
		KID:          id.KID,
		PublicKeyJWK: id.PublicJWK(),
		Wrapper:      wire,
	})
	if err != nil {
		if errors.Is(err, apierrors.ErrAlreadyEnabled) {
			log.Info("encrypted DMs already enabled")
		}
		return nil, fmt.Errorf("register %s wrapper: %w", rec.Kind(), err)
	}

	if resp.KID != "" && resp.KID != id.KID {
		log.WithField("server_kid", resp.KID).Warn("server acknowledged a different kid")
	}

	m.InvalidateStatus()
	m.CachePrivateKey(id)
	log.Info("registered identity key")

	fp := resp.Fingerprint
	if fp == "" {
		fp = id.Fingerprint()
	}
	return &Registration{Identity: id, Fingerprint: fp}, nil
}
