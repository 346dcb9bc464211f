package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egregoros/e2eedm-go/internal/api"
	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/keystore"
	"github.com/egregoros/e2eedm-go/internal/keywrap"
	"github.com/egregoros/e2eedm-go/internal/mnemonic"
	"github.com/egregoros/e2eedm-go/internal/passkey"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func jsonOf(v any) ([]byte, error) { return json.Marshal(v) }

// fakeService behaves like the settings endpoints: the first registration
// wins and later ones fail with already_enabled.
type fakeService struct {
	mu       sync.Mutex
	status   api.StatusResponse
	requests []api.RegisterRequest

	statusCalls atomic.Int32
	gate        chan struct{}
}

func (f *fakeService) GetStatus(ctx context.Context) (*api.StatusResponse, error) {
	f.mu.Lock()
	s := f.status
	s.Wrappers = append([]api.WrapperRecord(nil), f.status.Wrappers...)
	f.mu.Unlock()

	f.statusCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return &s, nil
}

func (f *fakeService) register(req *api.RegisterRequest) (*api.RegisterResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if f.status.Enabled {
		return nil, &apierrors.APIError{StatusCode: 422, Code: apierrors.CodeAlreadyEnabled}
	}
	jwk := req.PublicKeyJWK
	f.status = api.StatusResponse{
		Enabled:   true,
		ActiveKey: &api.ActiveKey{KID: req.KID, PublicKeyJWK: &jwk},
		Wrappers:  []api.WrapperRecord{req.Wrapper},
	}
	return &api.RegisterResponse{KID: req.KID}, nil
}

func (f *fakeService) RegisterPasskey(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	return f.register(req)
}

func (f *fakeService) RegisterRecoveryCode(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	return f.register(req)
}

type brokenStore struct{ keystore.MemoryStore }

func (brokenStore) Save(string, []byte) error { return errors.New("quota exceeded") }

func TestManager_StatusMemoized(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{})}
	m := NewManager(svc, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Status, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Status(context.Background())
			assert.NoError(t, err)
			results[i] = s
		}()
	}

	require.Eventually(t, func() bool { return svc.statusCalls.Load() == 1 }, timeout, tick)
	close(svc.gate)
	wg.Wait()

	assert.Equal(t, int32(1), svc.statusCalls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}

	_, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), svc.statusCalls.Load())

	m.InvalidateStatus()
	_, err = m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.statusCalls.Load())
}

func TestManager_StatusAfterInvalidateSkipsInFlightRequest(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{})}
	m := NewManager(svc, nil, nil)

	stale := make(chan *Status, 1)
	go func() {
		s, err := m.Status(context.Background())
		assert.NoError(t, err)
		stale <- s
	}()
	require.Eventually(t, func() bool { return svc.statusCalls.Load() == 1 }, timeout, tick)

	svc.mu.Lock()
	svc.status = api.StatusResponse{Enabled: true}
	svc.mu.Unlock()
	m.InvalidateStatus()

	fresh := make(chan *Status, 1)
	go func() {
		s, err := m.Status(context.Background())
		assert.NoError(t, err)
		fresh <- s
	}()
	require.Eventually(t, func() bool { return svc.statusCalls.Load() == 2 }, timeout, tick)
	close(svc.gate)

	assert.False(t, (<-stale).Enabled)
	assert.True(t, (<-fresh).Enabled)

	s, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	assert.Equal(t, int32(2), svc.statusCalls.Load())
}

func TestManager_StatusContextCancelled(t *testing.T) {
	svc := &fakeService{gate: make(chan struct{})}
	defer close(svc.gate)
	m := NewManager(svc, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Status(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_StatusSkipsUnusableWrappers(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	jwk := id.PublicJWK()

	svc := &fakeService{status: api.StatusResponse{
		Enabled:   true,
		ActiveKey: &api.ActiveKey{KID: id.KID, PublicKey: &jwk},
		Wrappers: []api.WrapperRecord{
			{Type: "totp_v0", WrappedPrivateKey: "AAAA", Params: json.RawMessage(`{}`)},
		},
	}}
	m := NewManager(svc, nil, nil)

	s, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	assert.Equal(t, id.KID, s.ActiveKID)
	assert.True(t, crypto.PublicKeysEqual(id.PublicKey(), s.ActiveKey))
	assert.Equal(t, id.Fingerprint(), s.Fingerprint)
	assert.Empty(t, s.Records)
}

func TestManager_Cache(t *testing.T) {
	store := keystore.NewMemoryStore()
	m := NewManager(&fakeService{}, store, nil)

	_, ok := m.LoadCachedPrivateKey("e2ee-none")
	assert.False(t, ok)

	id, err := Generate()
	require.NoError(t, err)
	m.CachePrivateKey(id)

	got, ok := m.LoadCachedPrivateKey(id.KID)
	require.True(t, ok)
	assert.Equal(t, id.PrivateKey.Bytes(), got.PrivateKey.Bytes())

	m.ForgetCachedKey(id.KID)
	_, ok = m.LoadCachedPrivateKey(id.KID)
	assert.False(t, ok)

	m.CachePrivateKey(id)
	m.ClearCache()
	_, ok = m.LoadCachedPrivateKey(id.KID)
	assert.False(t, ok)
}

func TestManager_CorruptCacheEntryDiscarded(t *testing.T) {
	store := keystore.NewMemoryStore()
	require.NoError(t, store.Save("e2ee-x", []byte("garbage")))
	m := NewManager(&fakeService{}, store, nil)

	_, ok := m.LoadCachedPrivateKey("e2ee-x")
	assert.False(t, ok)
	_, err := store.Load("e2ee-x")
	assert.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestManager_CacheFailureIsNotFatal(t *testing.T) {
	m := NewManager(&fakeService{}, &brokenStore{}, nil)
	id, err := Generate()
	require.NoError(t, err)

	m.CachePrivateKey(id)
	_, ok := m.LoadCachedPrivateKey(id.KID)
	assert.False(t, ok)
}

func TestManager_EnableWithPasskey(t *testing.T) {
	svc := &fakeService{}
	store := keystore.NewMemoryStore()
	m := NewManager(svc, store, nil)
	auth := passkey.NewVirtualAuthenticator()

	rp := passkey.RelyingParty{ID: "egregoros.example"}
	user := passkey.User{ID: passkey.UserHandle("1"), Name: "alice"}
	reg, err := m.EnableWithPasskey(context.Background(), auth, rp, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), auth.Creations())
	assert.Equal(t, int64(1), auth.Assertions())
	assert.Equal(t, reg.Identity.Fingerprint(), reg.Fingerprint)
	assert.Empty(t, reg.RecoveryPhrase)

	require.Len(t, svc.requests, 1)
	req := svc.requests[0]
	assert.Equal(t, reg.Identity.KID, req.KID)
	assert.Empty(t, req.PublicKeyJWK.D)
	assert.Equal(t, api.WrapperTypePasskey, req.Wrapper.Type)

	_, ok := m.LoadCachedPrivateKey(reg.Identity.KID)
	assert.True(t, ok)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Records, 1)

	u := &keywrap.PasskeyUnwrapper{Authenticator: auth, RPID: rp.ID}
	got, err := Recover(context.Background(), status.ActiveKID, status.Records[0], u)
	require.NoError(t, err)
	assert.Equal(t, reg.Identity.PrivateKey.Bytes(), got.PrivateKey.Bytes())
}

func TestManager_EnableWithPasskey_PRFUnsupported(t *testing.T) {
	svc := &fakeService{}
	m := NewManager(svc, nil, nil)
	auth := passkey.NewVirtualAuthenticator()
	auth.DisablePRF = true

	_, err := m.EnableWithPasskey(context.Background(), auth, passkey.RelyingParty{}, passkey.User{})
	assert.ErrorIs(t, err, passkey.ErrPRFUnsupported)
	assert.Empty(t, svc.requests)
}

func TestManager_EnableWithRecoveryPhrase(t *testing.T) {
	svc := &fakeService{}
	m := NewManager(svc, nil, nil)

	reg, err := m.EnableWithRecoveryPhrase(context.Background())
	require.NoError(t, err)
	assert.Len(t, strings.Fields(reg.RecoveryPhrase), mnemonic.WordCount)
	require.Len(t, svc.requests, 1)
	assert.Equal(t, api.WrapperTypeMnemonic, svc.requests[0].Wrapper.Type)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Records, 1)

	u := &keywrap.MnemonicUnwrapper{Prompt: keywrap.PromptFunc(func(context.Context) (string, error) {
		return strings.ToUpper(reg.RecoveryPhrase), nil
	})}
	got, err := Recover(context.Background(), status.ActiveKID, status.Records[0], u)
	require.NoError(t, err)
	assert.Equal(t, reg.Identity.PrivateKey.Bytes(), got.PrivateKey.Bytes())
}

func TestManager_RegisterTwiceIsAlreadyEnabled(t *testing.T) {
	svc := &fakeService{}
	m := NewManager(svc, nil, nil)
	auth := passkey.NewVirtualAuthenticator()

	first, err := m.EnableWithPasskey(context.Background(), auth, passkey.RelyingParty{}, passkey.User{})
	require.NoError(t, err)

	_, err = m.EnableWithPasskey(context.Background(), auth, passkey.RelyingParty{}, passkey.User{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrAlreadyEnabled)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Identity.KID, status.ActiveKID)
	require.Len(t, status.Records, 1)
}
