package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	disk, err := OpenBadger(BadgerConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		mem.Close()
		disk.Close()
	})

	return map[string]Store{
		"memory":          NewMemoryStore(),
		"badger-inmemory": mem,
		"badger-disk":     disk,
	}
}

func TestStore_SaveLoadDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load("e2ee-a")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save("e2ee-a", []byte(`{"d":"secret"}`)))
			got, err := s.Load("e2ee-a")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"d":"secret"}`), got)

			require.NoError(t, s.Save("e2ee-a", []byte("replaced")))
			got, err = s.Load("e2ee-a")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), got)

			require.NoError(t, s.Delete("e2ee-a"))
			_, err = s.Load("e2ee-a")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, s.Delete("e2ee-missing"))
		})
	}
}

func TestStore_Clear(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save("e2ee-1", []byte("one")))
			require.NoError(t, s.Save("e2ee-2", []byte("two")))

			require.NoError(t, s.Clear())

			for _, kid := range []string{"e2ee-1", "e2ee-2"} {
				_, err := s.Load(kid)
				assert.ErrorIs(t, err, ErrNotFound, kid)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	data := []byte("key")
	require.NoError(t, s.Save("k", data))
	data[0] = 'X'

	got, err := s.Load("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("key"), got)

	got[0] = 'Y'
	again, _ := s.Load("k")
	assert.Equal(t, []byte("key"), again)
}

func TestBadgerStore_Persists(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Save("e2ee-a", []byte("jwk")))
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load("e2ee-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("jwk"), got)
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
