package e2eedm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/egregoros/e2eedm-go/internal/api"
)

// fakeAccount is one signed-in user of fakeServer.
type fakeAccount struct {
	actorID string
	handle  string
	status  api.StatusResponse
}

// fakeServer implements the E2EE settings and actor key endpoints for a
// handful of accounts keyed by bearer token.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*fakeAccount

	lookups       atomic.Int32
	registrations atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t, accounts: make(map[string]*fakeAccount)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) addAccount(token, actorID, handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[token] = &fakeAccount{actorID: actorID, handle: handle}
}

func (f *fakeServer) client(t *testing.T, token string, opts ...Option) *Client {
	t.Helper()
	f.mu.Lock()
	acct := f.accounts[token]
	f.mu.Unlock()

	base := []Option{
		WithBaseURL(f.srv.URL),
		WithToken(token),
		WithActorID(acct.actorID),
		WithUser(acct.handle),
		WithRetries(0),
	}
	c, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	f.mu.Lock()
	defer f.mu.Unlock()

	acct := f.accounts[token]
	if acct == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == api.PathStatus:
		writeJSON(w, http.StatusOK, acct.status)

	case r.Method == http.MethodPost && (r.URL.Path == api.PathRegisterPasskey || r.URL.Path == api.PathRegisterRecoveryCode):
		f.registrations.Add(1)
		var req api.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
			return
		}
		if acct.status.Enabled {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "already_enabled"})
			return
		}
		jwk := req.PublicKeyJWK
		acct.status = api.StatusResponse{
			Enabled:   true,
			ActiveKey: &api.ActiveKey{KID: req.KID, PublicKeyJWK: &jwk},
			Wrappers:  []api.WrapperRecord{req.Wrapper},
		}
		writeJSON(w, http.StatusCreated, map[string]string{"kid": req.KID})

	case r.Method == http.MethodPost && r.URL.Path == api.PathActorKey:
		f.lookups.Add(1)
		var req api.ActorKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
			return
		}
		for _, a := range f.accounts {
			if (req.ActorAPID != "" && a.actorID == req.ActorAPID) || (req.Handle != "" && a.handle == req.Handle) {
				if !a.status.Enabled || (req.KID != "" && req.KID != a.status.ActiveKey.KID) {
					break
				}
				writeJSON(w, http.StatusOK, api.ActorKeyResponse{
					ActorAPID: a.actorID,
					Key: &api.ActorKeyRecord{
						KID: a.status.ActiveKey.KID,
						JWK: *a.status.ActiveKey.PublicKeyJWK,
					},
				})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}
}
