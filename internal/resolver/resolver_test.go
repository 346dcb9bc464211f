package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/egregoros/e2eedm-go/internal/api"
	"github.com/egregoros/e2eedm-go/internal/apierrors"
	"github.com/egregoros/e2eedm-go/internal/crypto"
	"github.com/egregoros/e2eedm-go/internal/metrics"
)

const bob = "https://remote.example/users/bob"

type fakeLookup struct {
	keys  map[string]*api.ActorKeyRecord
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeLookup) LookupActorKey(ctx context.Context, actorID, kid string) (*api.ActorKeyResponse, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.keys[actorID]
	if !ok {
		return nil, &apierrors.APIError{StatusCode: 404, Code: "not_found"}
	}
	return &api.ActorKeyResponse{ActorAPID: actorID, Key: rec}, nil
}

func (f *fakeLookup) LookupActorKeyByHandle(ctx context.Context, handle string) (*api.ActorKeyResponse, error) {
	f.calls.Add(1)
	if handle != "bob@remote.example" {
		return nil, &apierrors.APIError{StatusCode: 404}
	}
	return &api.ActorKeyResponse{ActorAPID: bob, Key: f.keys[bob]}, nil
}

func publishedKey(t *testing.T, kid string) *api.ActorKeyRecord {
	t.Helper()
	priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return &api.ActorKeyRecord{KID: kid, JWK: crypto.PublicJWK(priv.PublicKey())}
}

func TestResolveKey_CachesResult(t *testing.T) {
	rec := publishedKey(t, "e2ee-b")
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{bob: rec}}
	r := New(lookup, Config{})

	k, err := r.ResolveKey(context.Background(), bob, "")
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, bob, k.ActorID)
	assert.Equal(t, "e2ee-b", k.KID)
	assert.Equal(t, crypto.Fingerprint(k.PublicKey), k.Fingerprint)

	again, err := r.ResolveKey(context.Background(), bob, "")
	require.NoError(t, err)
	assert.Same(t, k, again)

	byKID, err := r.ResolveKey(context.Background(), bob, "e2ee-b")
	require.NoError(t, err)
	assert.Same(t, k, byKID)

	assert.Equal(t, int32(1), lookup.calls.Load())
	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Lookups)
	assert.Equal(t, 2, stats.Entries)
}

func TestResolveKey_ConcurrentCallersShareOneRequest(t *testing.T) {
	rec := publishedKey(t, "e2ee-b")
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{bob: rec}, gate: make(chan struct{})}
	r := New(lookup, Config{})

	const callers = 16
	var wg sync.WaitGroup
	keys := make([]*ActorKey, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := r.ResolveKey(context.Background(), bob, "e2ee-b")
			assert.NoError(t, err)
			keys[i] = k
		}()
	}

	require.Eventually(t, func() bool { return lookup.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(lookup.gate)
	wg.Wait()

	assert.Equal(t, int32(1), lookup.calls.Load())
	for _, k := range keys {
		require.NotNil(t, k)
		assert.Same(t, keys[0], k)
	}
}

func TestResolveKey_NotFoundIsNotCached(t *testing.T) {
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{}}
	r := New(lookup, Config{})

	for range 2 {
		k, err := r.ResolveKey(context.Background(), bob, "")
		require.NoError(t, err)
		assert.Nil(t, k)
	}
	assert.Equal(t, int32(2), lookup.calls.Load())
	assert.Equal(t, int64(2), r.Stats().NotFound)

	lookup.keys[bob] = publishedKey(t, "e2ee-b")
	k, err := r.ResolveKey(context.Background(), bob, "")
	require.NoError(t, err)
	assert.NotNil(t, k)
}

func TestResolveKey_RejectsIncompleteKeys(t *testing.T) {
	good := publishedKey(t, "e2ee-b")
	noX := *good
	noX.X = ""
	wrongCurve := *good
	wrongCurve.Crv = "P-384"
	noKID := *good
	noKID.KID = ""
	otherKID := *good
	otherKID.KID = "e2ee-c"

	tests := []struct {
		name string
		rec  *api.ActorKeyRecord
		kid  string
	}{
		{"nil key", nil, ""},
		{"missing x", &noX, ""},
		{"wrong curve", &wrongCurve, ""},
		{"missing kid", &noKID, ""},
		{"kid mismatch", &otherKID, "e2ee-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{bob: tt.rec}}
			r := New(lookup, Config{})

			k, err := r.ResolveKey(context.Background(), bob, tt.kid)
			require.NoError(t, err)
			assert.Nil(t, k)
			assert.Zero(t, r.Stats().Entries)
		})
	}
}

func TestResolveKey_ErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	r := New(&fakeLookup{err: boom}, Config{})

	_, err := r.ResolveKey(context.Background(), bob, "")
	assert.ErrorIs(t, err, boom)

	_, err = r.ResolveKey(context.Background(), " ", "")
	assert.ErrorIs(t, err, ErrMissingActorID)
}

func TestResolveKey_ContextCancelled(t *testing.T) {
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{}, gate: make(chan struct{})}
	defer close(lookup.gate)
	r := New(lookup, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ResolveKey(ctx, bob, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveKeyByHandle(t *testing.T) {
	rec := publishedKey(t, "e2ee-b")
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{bob: rec}}
	r := New(lookup, Config{})

	k, err := r.ResolveKeyByHandle(context.Background(), "@bob@remote.example")
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, bob, k.ActorID)

	byID, err := r.ResolveKey(context.Background(), bob, "e2ee-b")
	require.NoError(t, err)
	assert.Same(t, k, byID)
	assert.Equal(t, int32(1), lookup.calls.Load())

	missing, err := r.ResolveKeyByHandle(context.Background(), "carol@remote.example")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInvalidate(t *testing.T) {
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{bob: publishedKey(t, "e2ee-b")}}
	r := New(lookup, Config{})

	_, err := r.ResolveKeyByHandle(context.Background(), "bob@remote.example")
	require.NoError(t, err)
	require.NotZero(t, r.Stats().Entries)

	r.Invalidate(bob)
	assert.Zero(t, r.Stats().Entries)

	_, err = r.ResolveKey(context.Background(), bob, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), lookup.calls.Load())

	r.Reset()
	assert.Zero(t, r.Stats().Entries)
}

func TestResolver_RateLimited(t *testing.T) {
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{}}
	r := New(lookup, Config{Limit: rate.Every(50 * time.Millisecond), Burst: 1})

	start := time.Now()
	for range 3 {
		_, err := r.ResolveKey(context.Background(), bob, "")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestResolver_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	lookup := &fakeLookup{keys: map[string]*api.ActorKeyRecord{bob: publishedKey(t, "e2ee-b")}}
	r := New(lookup, Config{Metrics: metrics.New(reg)})

	_, err := r.ResolveKey(context.Background(), bob, "")
	require.NoError(t, err)
	_, err = r.ResolveKey(context.Background(), bob, "")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "e2eedm_resolver_lookups_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			outcomes[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"fetched": 1, "hit": 1}, outcomes)
}
