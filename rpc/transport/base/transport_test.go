package base

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unix socket connectors, the unix package itself depends on base

type testClientConnector struct{}

func (testClientConnector) GetName() string { return "unix" }

func (testClientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", endpoint)
}

func (testClientConnector) UpgradeConnection(net.Conn, common.ClientTransportConfig) error {
	return nil
}

type testServerConnector struct{}

func (testServerConnector) GetName() string { return "unix" }

func (testServerConnector) Listen(config common.ServerTransportConfig) (net.Listener, error) {
	return net.Listen("unix", config.Endpoint)
}

func (testServerConnector) UpgradeConnection(net.Conn, common.ServerTransportConfig) error {
	return nil
}

// testHandler understands the requests "echo:<x>", "stream:<n>" and "block"
type testHandler struct {
	release chan struct{}
	started chan struct{}
}

func newTestHandler() *testHandler {
	return &testHandler{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (h *testHandler) handle(shardId uint64, req []byte, stream transport.StreamFunc) []byte {
	switch {
	case bytes.HasPrefix(req, []byte("echo:")):
		return append([]byte(fmt.Sprintf("%d:", shardId)), req[5:]...)
	case bytes.HasPrefix(req, []byte("stream:")):
		var n int
		_, _ = fmt.Sscanf(string(req[7:]), "%d", &n)
		for i := 0; i < n; i++ {
			if err := stream([]byte(fmt.Sprintf("part-%d", i))); err != nil {
				return nil
			}
		}
		return []byte("done")
	case bytes.Equal(req, []byte("block")):
		h.started <- struct{}{}
		<-h.release
		return []byte("released")
	default:
		return []byte("unknown")
	}
}

func startServer(t *testing.T, path string, h *testHandler) transport.IRPCServerTransport {
	t.Helper()
	server := NewBaseServerTransport(testServerConnector{})
	server.RegisterHandler(h.handle)
	_, err := server.Listen(common.DefaultServerTransportConfig(path))
	require.NoError(t, err)
	return server
}

func connectClient(t *testing.T, path string, connections int) transport.IRPCClientTransport {
	t.Helper()
	client := NewBaseClientTransport(testClientConnector{})
	config := common.DefaultClientTransportConfig()
	config.ConnectionsPerEndpoint = connections
	require.NoError(t, client.Connect(path, config))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func socketPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "rkv.sock")
}

func TestSendAndStream(t *testing.T) {
	path := socketPath(t)
	h := newTestHandler()
	server := startServer(t, path, h)
	defer server.Close()

	client := connectClient(t, path, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Send", func(t *testing.T) {
		resp, err := client.Send(ctx, 42, []byte("echo:hello"))
		require.NoError(t, err)
		assert.Equal(t, "42:hello", string(resp))
	})

	t.Run("ConcurrentSend", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := client.Send(ctx, uint64(i), []byte(fmt.Sprintf("echo:%d", i)))
				if assert.NoError(t, err) {
					assert.Equal(t, fmt.Sprintf("%d:%d", i, i), string(resp))
				}
			}(i)
		}
		wg.Wait()
	})

	t.Run("Stream", func(t *testing.T) {
		var parts []string
		resp, err := client.Stream(ctx, 1, []byte("stream:5"), func(part []byte) error {
			parts = append(parts, string(part))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", string(resp))
		assert.Equal(t, []string{"part-0", "part-1", "part-2", "part-3", "part-4"}, parts)
	})

	t.Run("StreamAbort", func(t *testing.T) {
		abort := fmt.Errorf("enough")
		calls := 0
		_, err := client.Stream(ctx, 1, []byte("stream:100"), func([]byte) error {
			calls++
			if calls == 2 {
				return abort
			}
			return nil
		})
		assert.ErrorIs(t, err, abort)
		assert.Equal(t, 2, calls)

		// the connection is still usable
		resp, err := client.Send(ctx, 7, []byte("echo:after"))
		require.NoError(t, err)
		assert.Equal(t, "7:after", string(resp))
	})

	t.Run("SendInsideStream", func(t *testing.T) {
		// one connection, the stream and the nested requests share the reader
		single := connectClient(t, path, 1)
		parts := 0
		resp, err := single.Stream(ctx, 1, []byte("stream:100"), func(part []byte) error {
			parts++
			short, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			echo, err := single.Send(short, 3, []byte("echo:"+string(part)))
			if err != nil {
				return err
			}
			assert.Equal(t, "3:"+string(part), string(echo))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", string(resp))
		assert.Equal(t, 100, parts)
	})

	t.Run("Timeout", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := client.Send(short, 1, []byte("block"))
		assert.ErrorIs(t, err, store.ErrTimeout)
		<-h.started
		h.release <- struct{}{}
	})
}

func TestCloseFailsPendingRequests(t *testing.T) {
	path := socketPath(t)
	h := newTestHandler()
	server := startServer(t, path, h)
	defer func() {
		close(h.release)
		_ = server.Close()
	}()

	client := NewBaseClientTransport(testClientConnector{})
	require.NoError(t, client.Connect(path, common.DefaultClientTransportConfig()))

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), 1, []byte("block"))
		errCh <- err
	}()
	<-h.started

	require.NoError(t, client.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, store.ErrConnectionClosed)
		assert.ErrorIs(t, err, store.ErrConnection)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request was not failed by Close")
	}

	// closing twice is a no-op, requests after close fail immediately
	assert.NoError(t, client.Close())
	_, err := client.Send(context.Background(), 1, []byte("echo:x"))
	assert.ErrorIs(t, err, store.ErrConnectionClosed)
	assert.False(t, client.Connected())
}

func TestReconnect(t *testing.T) {
	path := socketPath(t)
	h := newTestHandler()
	server := startServer(t, path, h)

	client := connectClient(t, path, 1)
	ctx := context.Background()

	_, err := client.Send(ctx, 1, []byte("echo:first"))
	require.NoError(t, err)

	// a request in flight fails with a network error when the node goes away
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Send(ctx, 1, []byte("block"))
		errCh <- err
	}()
	<-h.started
	close(h.release)
	require.NoError(t, server.Close())
	err = <-errCh
	if err != nil {
		assert.True(t, store.IsRetryable(err), "unexpected error %v", err)
	}

	require.Eventually(t, func() bool { return !client.Connected() }, 5*time.Second, 10*time.Millisecond)

	// the node comes back on the same socket
	server = startServer(t, path, newTestHandler())
	defer server.Close()

	require.Eventually(t, func() bool {
		resp, err := client.Send(ctx, 3, []byte("echo:again"))
		return err == nil && string(resp) == "3:again"
	}, 10*time.Second, 20*time.Millisecond)
}

func TestConnectFailure(t *testing.T) {
	client := NewBaseClientTransport(testClientConnector{})
	err := client.Connect(filepath.Join(t.TempDir(), "missing.sock"), common.DefaultClientTransportConfig())
	assert.ErrorIs(t, err, store.ErrNetwork)
	assert.NoError(t, client.Close())
}
