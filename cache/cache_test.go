package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crm-rpc/client"
	"crm-rpc/server"

	"github.com/stretchr/testify/require"
)

// exercise runs the same checks against any Store.
func exercise(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "b", []byte{0, 1, 2}))

	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "alpha", string(v))
	v, err = store.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2}, v)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "never there"))
	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	n, err = store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(16)
	require.NoError(t, err)
	exercise(t, store)
}

func TestLocalStoreEvicts(t *testing.T) {
	store, err := NewLocalStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprint(i), []byte{byte(i)}))
	}
	_, err = store.Get(ctx, "0")
	require.ErrorIs(t, err, ErrNotFound)
	n, _ := store.Len(ctx)
	require.Equal(t, 2, n)
}

func TestLocalStoreCopiesValue(t *testing.T) {
	store, err := NewLocalStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", value))
	value[0] = 'X'
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "abc", string(v))
}

func TestNewLocalStoreInvalidSize(t *testing.T) {
	_, err := NewLocalStore(0)
	require.Error(t, err)
}

func serve(t *testing.T, local *LocalStore) *server.Server {
	t.Helper()
	s, err := server.New("tcp://127.0.0.1:0", NewResource(local), server.WithName("cache"))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func TestRemoteStore(t *testing.T) {
	local, err := NewLocalStore(16)
	require.NoError(t, err)
	s := serve(t, local)

	c := client.NewClient()
	defer c.Close()
	exercise(t, NewRemoteStore(c, s.Addr(), time.Second))

	// both views agree
	n, err := local.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestResourceTerminatePurges(t *testing.T) {
	local, err := NewLocalStore(16)
	require.NoError(t, err)
	require.NoError(t, local.Put(context.Background(), "k", []byte("v")))

	s := serve(t, local)
	s.Stop()

	n, err := local.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResourceMethods(t *testing.T) {
	local, err := NewLocalStore(4)
	require.NoError(t, err)
	methods := NewResource(local).Methods()
	require.Len(t, methods, 4)

	aux, resp, err := methods[MethodPut]([]byte(`{"key":"k","value":"dg=="}`))
	require.NoError(t, err)
	require.Equal(t, "k", aux)
	require.JSONEq(t, `{"len":0}`, string(resp))

	aux, resp, err = methods[MethodGet]([]byte(`{"key":"k"}`))
	require.NoError(t, err)
	require.Equal(t, "k", aux)
	require.JSONEq(t, `{"value":"dg==","found":true,"len":0}`, string(resp))

	_, _, err = methods[MethodGet]([]byte("not json"))
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	store, err := Open(Config{}, nil)
	require.NoError(t, err)
	require.IsType(t, &LocalStore{}, store)

	_, err = Open(Config{Mode: ModeRemote}, client.NewClient())
	require.Error(t, err)

	_, err = Open(Config{Mode: ModeRemote, Address: "tcp://127.0.0.1:1"}, nil)
	require.Error(t, err)

	store, err = Open(Config{Mode: ModeRemote, Address: "tcp://127.0.0.1:1"}, client.NewClient())
	require.NoError(t, err)
	require.IsType(t, &RemoteStore{}, store)

	_, err = Open(Config{Mode: "disk"}, nil)
	require.Error(t, err)
}
