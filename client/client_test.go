package client

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"testing"
	"time"

	"crm-rpc/message"
	"crm-rpc/registry"
	"crm-rpc/server"
	"crm-rpc/transport"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func echoResource() server.MethodMap {
	return server.MethodMap{
		"echo": func(args []byte) (any, []byte, error) {
			return nil, append([]byte(nil), args...), nil
		},
		"fail": func([]byte) (any, []byte, error) {
			return nil, nil, errors.New("boom")
		},
	}
}

func startServer(t *testing.T, opts ...server.Option) *server.Server {
	t.Helper()
	s, err := server.New("tcp://127.0.0.1:0", echoResource(), opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c := NewClient(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// unusedAddress returns a tcp address nothing listens on.
func unusedAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "tcp://" + addr
}

func TestCallEcho(t *testing.T) {
	s := startServer(t, server.WithName("echo"))
	c := newClient(t)

	reply, err := c.Call(context.Background(), s.Addr(), "echo", []byte("hi"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "hi", string(reply))
}

func TestCallAfterServerReplaced(t *testing.T) {
	first, err := server.New("tcp://127.0.0.1:0", echoResource())
	require.NoError(t, err)
	require.NoError(t, first.Start())
	addr := first.Addr()
	c := newClient(t)

	reply, err := c.Call(context.Background(), addr, "echo", []byte("one"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "one", string(reply))

	// a new session on the same address, reached through the same client
	first.Stop()
	second, err := server.New(addr, echoResource())
	require.NoError(t, err)
	require.NoError(t, second.Start())
	t.Cleanup(second.Stop)
	require.True(t, c.Ping(context.Background(), addr, time.Second))

	reply, err = c.Call(context.Background(), addr, "echo", []byte("two"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "two", string(reply))
	require.False(t, second.Terminated())
}

func TestCallOrdered(t *testing.T) {
	s := startServer(t)
	c := newClient(t, WithPoolSize(2))

	for i := 0; i < 30; i++ {
		want := fmt.Sprintf("n=%d", i)
		reply, err := c.Call(context.Background(), s.Addr(), "echo", []byte(want), time.Second)
		require.NoError(t, err)
		require.Equal(t, want, string(reply))
	}
}

func TestCallConcurrent(t *testing.T) {
	s := startServer(t)
	c := newClient(t, WithPoolSize(3))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				want := fmt.Sprintf("%d/%d", n, j)
				reply, err := c.Call(context.Background(), s.Addr(), "echo", []byte(want), 5*time.Second)
				if err != nil {
					t.Errorf("call: %v", err)
					return
				}
				if string(reply) != want {
					t.Errorf("got %q, want %q", reply, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestCallNoResponse(t *testing.T) {
	c := newClient(t)

	_, err := c.Call(context.Background(), unusedAddress(t), "echo", nil, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestCallTimeout(t *testing.T) {
	// a bound socket nobody serves never answers
	sock, err := transport.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer sock.Close()

	c := newClient(t)
	start := time.Now()
	_, err = c.Call(context.Background(), sock.Addr(), "echo", []byte("x"), 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoResponse)
	require.ErrorIs(t, err, transport.ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFailingCallTerminatesServer(t *testing.T) {
	s := startServer(t)
	c := newClient(t)

	_, err := c.Call(context.Background(), s.Addr(), "fail", nil, 2*time.Second)
	require.ErrorIs(t, err, ErrNoResponse)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after a failing call")
	}
	require.False(t, c.Ping(context.Background(), s.Addr(), 200*time.Millisecond))
}

func TestPing(t *testing.T) {
	s := startServer(t)
	c := newClient(t)

	for i := 0; i < 5; i++ {
		require.True(t, c.Ping(context.Background(), s.Addr(), time.Second))
	}

	start := time.Now()
	require.False(t, c.Ping(context.Background(), unusedAddress(t), 200*time.Millisecond))
	require.Less(t, time.Since(start), 2*time.Second)

	require.False(t, c.Ping(context.Background(), "not an address", 200*time.Millisecond))
}

func TestShutdown(t *testing.T) {
	s := startServer(t)
	c := newClient(t)

	require.True(t, c.Shutdown(context.Background(), s.Addr(), time.Second, nil))
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not terminate after shutdown")
	}
	reason, _ := s.Reason()
	require.Equal(t, server.ReasonShutdown, reason)
	require.False(t, c.Ping(context.Background(), s.Addr(), 200*time.Millisecond))
}

func TestShutdownWithoutServer(t *testing.T) {
	c := newClient(t)
	require.False(t, c.Shutdown(context.Background(), unusedAddress(t), 100*time.Millisecond, nil))
}

func TestShutdownKillsProcess(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	require.NoError(t, cmd.Start())
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	c := newClient(t)
	require.True(t, c.Shutdown(context.Background(), unusedAddress(t), 100*time.Millisecond, cmd.Process))

	select {
	case err := <-waited:
		require.Error(t, err) // killed, not a clean exit
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed")
	}
}

func TestResolve(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	defer reg.Close()

	c := newClient(t, WithRegistry(reg, nil))
	_, err := c.Resolve(context.Background(), "echo")
	require.Error(t, err)

	s := startServer(t, server.WithName("echo"), server.WithRegistry(reg, "", 0))
	addr, err := c.Resolve(context.Background(), "echo")
	require.NoError(t, err)
	require.Equal(t, s.Addr(), addr)

	reply, err := c.Call(context.Background(), addr, "echo", []byte("found"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "found", string(reply))

	_, err = newClient(t).Resolve(context.Background(), "echo")
	require.ErrorIs(t, err, ErrNoRegistry)
}

func TestWaitReady(t *testing.T) {
	c := newClient(t)
	require.ErrorIs(t, c.WaitReady(context.Background(), unusedAddress(t), 150*time.Millisecond), ErrNoResponse)

	s := startServer(t)
	require.NoError(t, c.WaitReady(context.Background(), s.Addr(), time.Second))
}

func TestClosedClient(t *testing.T) {
	s := startServer(t)
	c := NewClient()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Call(context.Background(), s.Addr(), "echo", nil, time.Second)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPackageHelpers(t *testing.T) {
	s := startServer(t)

	require.True(t, Ping(s.Addr(), time.Second))
	reply, err := Call(s.Addr(), "echo", []byte("default"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "default", string(reply))
	require.True(t, Shutdown(s.Addr(), time.Second, nil))
}

func TestControlTokensAreNotCalls(t *testing.T) {
	s := startServer(t)
	c := newClient(t)

	// a method literally named PING is framed, so it is dispatched as a call and is unknown
	_, err := c.Call(context.Background(), s.Addr(), string(message.Ping), nil, time.Second)
	require.ErrorIs(t, err, ErrNoResponse)
}
