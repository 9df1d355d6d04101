package client

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	storetesting "github.com/ValentinKolb/rKV/lib/store/testing"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/server"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test cluster
// --------------------------------------------------------------------------

type testTransport struct {
	name     string
	server   func() transport.IRPCServerTransport
	client   transport.ClientTransportFactory
	endpoint func(t *testing.T, dir, node string) string
}

var tcpTransport = testTransport{
	name:     "TCP",
	server:   tcp.NewTCPServerTransport,
	client:   tcp.NewTCPClientTransport,
	endpoint: func(*testing.T, string, string) string { return "127.0.0.1:0" },
}

var unixTransport = testTransport{
	name:     "Unix",
	server:   unix.NewUnixServerTransport,
	client:   unix.NewUnixClientTransport,
	endpoint: func(_ *testing.T, dir, node string) string { return filepath.Join(dir, node+".sock") },
}

type testCluster struct {
	t         *testing.T
	transport testTransport
	dir       string
	usersFile string
	engine    string
	nodes     map[string]*server.Server
	members   map[string]string
}

func nodeName(i int) string {
	return fmt.Sprintf("node-%d", i+1)
}

// startCluster starts size nodes that know each other
func startCluster(t *testing.T, tt testTransport, size int, usersFile string) *testCluster {
	t.Helper()
	c := &testCluster{
		t:         t,
		transport: tt,
		dir:       t.TempDir(),
		usersFile: usersFile,
		engine:    common.EngineMemory,
		nodes:     make(map[string]*server.Server),
		members:   make(map[string]string),
	}
	if usersFile != "" {
		// keep the data of restarted nodes
		c.engine = common.EngineBolt
	}
	for i := 0; i < size; i++ {
		c.start(nodeName(i), tt.endpoint(t, c.dir, nodeName(i)))
	}
	c.syncMembers()
	t.Cleanup(func() {
		for _, s := range c.nodes {
			_ = s.Close()
		}
	})
	return c
}

func (c *testCluster) start(name, endpoint string) {
	c.t.Helper()
	s := server.NewRPCServer(common.ServerConfig{
		NodeName:   name,
		Namespaces: []string{storetesting.Namespace, "bar"},
		Engine:     c.engine,
		DataDir:    c.dir,
		UsersFile:  c.usersFile,
		Transport:  common.DefaultServerTransportConfig(endpoint),
	}, c.transport.server(), serializer.NewBinarySerializer())
	require.NoError(c.t, s.Start())
	c.nodes[name] = s
	c.members[name] = s.Addr().String()
}

func (c *testCluster) syncMembers() {
	for _, s := range c.nodes {
		s.SetMembers(c.members)
	}
}

// stop stops a node, it can be restarted on the same endpoint
func (c *testCluster) stop(name string) {
	c.t.Helper()
	require.NoError(c.t, c.nodes[name].Close())
}

func (c *testCluster) restart(name string) {
	c.t.Helper()
	c.start(name, c.members[name])
	c.syncMembers()
}

func (c *testCluster) config() common.ClientConfig {
	config := common.DefaultClientConfig(c.members[nodeName(0)])
	config.TotalTimeout = 2 * time.Second
	config.HeartbeatInterval = 50 * time.Millisecond
	config.HeartbeatGrace = 200 * time.Millisecond
	return config
}

func (c *testCluster) client(config common.ClientConfig) *Client {
	c.t.Helper()
	cl := NewClient(config, c.transport.client, serializer.NewBinarySerializer())
	require.NoError(c.t, cl.Connect(context.Background()))
	c.t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func writeUsers(t *testing.T) string {
	t.Helper()
	hash, err := server.HashPassword("admin123")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, server.WriteUsers(path, &server.UsersConfig{Users: []server.User{{Username: "admin", Password: hash}}}))
	return path
}

// keyOwnedBy returns a key routed to the given node
func keyOwnedBy(t *testing.T, cl *Client, name string) *store.Key {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		key, err := store.NewKey(storetesting.Namespace, "demo", i)
		require.NoError(t, err)
		cl.cluster.mu.RLock()
		owner := cl.cluster.names[int(key.PartitionID())%len(cl.cluster.names)]
		cl.cluster.mu.RUnlock()
		if owner == name {
			return key
		}
	}
	t.Fatalf("no key owned by %s", name)
	return nil
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestClientStoreConformance(t *testing.T) {
	for _, tt := range []testTransport{tcpTransport, unixTransport} {
		for _, size := range []int{1, 3} {
			name := fmt.Sprintf("%s-%dNodes", tt.name, size)
			storetesting.RunStoreTests(t, name, func(t *testing.T) store.IStore {
				c := startCluster(t, tt, size, "")
				cl := NewClient(c.config(), tt.client, serializer.NewBinarySerializer())
				require.NoError(t, cl.Connect(context.Background()))
				return cl
			})
		}
	}
}

func TestClientConnect(t *testing.T) {
	ctx := context.Background()
	key, err := store.NewKey(storetesting.Namespace, "demo", 1)
	require.NoError(t, err)

	t.Run("NotConnected", func(t *testing.T) {
		cl := NewClient(common.DefaultClientConfig("127.0.0.1:1"), tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
		defer cl.Close()

		_, err := cl.Get(ctx, key, nil)
		require.ErrorIs(t, err, store.ErrConnection)
		assert.Equal(t, store.ResultClusterUnavailable, store.CodeOf(err))
		assert.Equal(t, "no connection to cluster", store.AsError(err).Msg)

		err = cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil)
		assert.Equal(t, store.ResultClusterUnavailable, store.CodeOf(err))

		_, err = cl.Results(ctx, store.NewQuery(storetesting.Namespace, "demo"), nil)
		assert.Equal(t, store.ResultClusterUnavailable, store.CodeOf(err))
	})

	t.Run("NoReachableHost", func(t *testing.T) {
		cl := NewClient(common.DefaultClientConfig(filepath.Join(t.TempDir(), "missing.sock")), unix.NewUnixClientTransport, serializer.NewBinarySerializer())
		defer cl.Close()
		err := cl.Connect(ctx)
		require.ErrorIs(t, err, store.ErrConnection)
		assert.Equal(t, store.ResultClusterUnavailable, store.CodeOf(err))
	})

	t.Run("SeedFallback", func(t *testing.T) {
		c := startCluster(t, unixTransport, 1, "")
		config := c.config()
		config.Hosts = []string{filepath.Join(t.TempDir(), "missing.sock"), c.members[nodeName(0)]}
		cl := c.client(config)
		require.NoError(t, cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil))
	})

	t.Run("DiscoversMembers", func(t *testing.T) {
		c := startCluster(t, unixTransport, 3, "")
		cl := c.client(c.config())
		nodes := cl.Nodes()
		require.Len(t, nodes, 3)
		for i, n := range nodes {
			assert.Equal(t, nodeName(i), n.Name)
			assert.True(t, n.Active)
			assert.Equal(t, "authenticated", n.Authenticated)
		}
	})

	t.Run("Authentication", func(t *testing.T) {
		c := startCluster(t, unixTransport, 1, writeUsers(t))

		config := c.config()
		config.User, config.Password = "admin", "wrong"
		cl := NewClient(config, unixTransport.client, serializer.NewBinarySerializer())
		err := cl.Connect(ctx)
		require.ErrorIs(t, err, store.ErrAuthentication)
		require.ErrorIs(t, err, store.ErrConnection)
		assert.Equal(t, store.ResultInvalidCredential, store.CodeOf(err))

		config.User = ""
		cl = NewClient(config, unixTransport.client, serializer.NewBinarySerializer())
		assert.ErrorIs(t, cl.Connect(ctx), store.ErrAuthentication)

		config.User, config.Password = "admin", "admin123"
		cl = c.client(config)
		require.NoError(t, cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil))
	})
}

func TestClientClose(t *testing.T) {
	ctx := context.Background()
	c := startCluster(t, tcpTransport, 1, "")
	cl := c.client(c.config())
	key, err := store.NewKey(storetesting.Namespace, "demo", "close")
	require.NoError(t, err)
	require.NoError(t, cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil))

	require.NoError(t, cl.Close())
	require.NoError(t, cl.Close())

	_, err = cl.Get(ctx, key, nil)
	assert.ErrorIs(t, err, store.ErrConnectionClosed)
	assert.ErrorIs(t, err, store.ErrConnection)

	var calls atomic.Int32
	f := cl.GetAsync(key, nil, func(_ *store.Record, err error) {
		calls.Add(1)
		assert.ErrorIs(t, err, store.ErrConnectionClosed)
	})
	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, store.ErrConnectionClosed)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, cl.Connect(ctx), store.ErrConnectionClosed)
}

func TestClientHeartbeat(t *testing.T) {
	ctx := context.Background()
	c := startCluster(t, unixTransport, 3, "")
	cl := c.client(c.config())

	key := keyOwnedBy(t, cl, "node-2")
	require.NoError(t, cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil))

	isActive := func(name string) bool {
		for _, n := range cl.Nodes() {
			if n.Name == name {
				return n.Active
			}
		}
		return false
	}

	// the stopped node is excluded from routing
	c.stop("node-2")
	require.Eventually(t, func() bool { return !isActive("node-2") }, 5*time.Second, 10*time.Millisecond)

	_, err := cl.Get(ctx, key, &store.Policy{TotalTimeout: 200 * time.Millisecond, RetryCount: 1})
	require.ErrorIs(t, err, store.ErrConnection)
	assert.Equal(t, store.ResultServerNotAvailable, store.CodeOf(err))
	assert.True(t, store.IsRetryable(err))

	// other nodes keep working
	other := keyOwnedBy(t, cl, "node-1")
	require.NoError(t, cl.Put(ctx, other, value.Bins{"a": value.Int(1)}, nil))

	// a successful heartbeat restores the node, its memory engine lost the record
	c.restart("node-2")
	require.Eventually(t, func() bool { return isActive("node-2") }, 10*time.Second, 10*time.Millisecond)
	_, err = cl.Get(ctx, key, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestClientRelogin(t *testing.T) {
	ctx := context.Background()
	c := startCluster(t, unixTransport, 1, writeUsers(t))
	config := c.config()
	config.User, config.Password = "admin", "admin123"
	// heartbeats would log in again on their own
	config.HeartbeatInterval = time.Hour
	cl := c.client(config)

	key, err := store.NewKey(storetesting.Namespace, "demo", "relogin")
	require.NoError(t, err)
	require.NoError(t, cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil))
	n := cl.cluster.allNodes()[0]
	n.mu.RLock()
	oldToken := n.token
	n.mu.RUnlock()

	// the restarted node does not know the session anymore
	c.stop(nodeName(0))
	c.restart(nodeName(0))

	require.Eventually(t, func() bool {
		rec, err := cl.Get(ctx, key, nil)
		return err == nil && rec.Bins["a"].Equal(value.Int(1))
	}, 10*time.Second, 20*time.Millisecond)

	n.mu.RLock()
	defer n.mu.RUnlock()
	assert.NotEqual(t, oldToken, n.token)
	assert.Equal(t, authAuthenticated, n.state)
}

func TestClientAsync(t *testing.T) {
	ctx := context.Background()
	c := startCluster(t, tcpTransport, 3, "")
	config := c.config()
	config.AsyncMaxInflight = 4
	cl := c.client(config)

	const count = 50
	var putCalls atomic.Int32
	futures := make([]*Future[struct{}], 0, count)
	for i := 0; i < count; i++ {
		key, err := store.NewKey(storetesting.Namespace, "async", i)
		require.NoError(t, err)
		futures = append(futures, cl.PutAsync(key, value.Bins{"i": value.Int(int64(i))}, nil, func(err error) {
			assert.NoError(t, err)
			putCalls.Add(1)
		}))
	}
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return putCalls.Load() == count }, time.Second, 5*time.Millisecond)

	t.Run("Get", func(t *testing.T) {
		key, err := store.NewKey(storetesting.Namespace, "async", 7)
		require.NoError(t, err)
		got := make(chan *store.Record, 2)
		f := cl.GetAsync(key, nil, func(rec *store.Record, err error) {
			assert.NoError(t, err)
			got <- rec
		})
		rec, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.True(t, rec.Bins["i"].Equal(value.Int(7)))
		assert.Same(t, rec, <-got)

		select {
		case <-got:
			t.Fatal("callback called twice")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("ExistsAndRemove", func(t *testing.T) {
		key, err := store.NewKey(storetesting.Namespace, "async", 8)
		require.NoError(t, err)
		ok, err := cl.ExistsAsync(key, nil, nil).Wait(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = cl.RemoveAsync(key, nil, nil).Wait(ctx)
		require.NoError(t, err)

		_, err = cl.RemoveAsync(key, nil, nil).Wait(ctx)
		assert.ErrorIs(t, err, store.ErrRecordNotFound)
	})

	t.Run("AbandonedWait", func(t *testing.T) {
		pending := &Future[int]{done: make(chan struct{})}
		done, cancel := context.WithCancel(ctx)
		cancel()
		_, err := pending.Wait(done)
		assert.ErrorIs(t, err, store.ErrTimeout)

		key, err := store.NewKey(storetesting.Namespace, "async", 9)
		require.NoError(t, err)
		f := cl.GetAsync(key, nil, nil)
		<-f.Done()
		rec, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.True(t, rec.Bins["i"].Equal(value.Int(9)))
	})
}

func TestClientRecordValidation(t *testing.T) {
	ctx := context.Background()
	c := startCluster(t, tcpTransport, 1, "")
	cl := c.client(c.config())

	_, err := cl.Get(ctx, nil, nil)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.ErrorIs(t, cl.Remove(ctx, nil, nil), store.ErrInvalidArgument)
	assert.ErrorIs(t, cl.RemoveIndex(ctx, storetesting.Namespace, "", nil), store.ErrInvalidArgument)

	// records are isolated per namespace
	key, err := store.NewKey(storetesting.Namespace, "demo", 1)
	require.NoError(t, err)
	require.NoError(t, cl.Put(ctx, key, value.Bins{"a": value.Int(1)}, nil))
	barKey, err := store.NewKeyWithDigest("bar", "demo", key.Digest())
	require.NoError(t, err)
	_, err = cl.Get(ctx, barKey, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestClientQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("AggregationIsMergedAcrossNodes", func(t *testing.T) {
		c := startCluster(t, tcpTransport, 3, "")
		cl := c.client(c.config())

		owners := map[string]bool{}
		for i := 0; i < 30; i++ {
			key, err := store.NewKey(storetesting.Namespace, "agg", i)
			require.NoError(t, err)
			require.NoError(t, cl.Put(ctx, key, value.Bins{
				"age":  value.Int(int64(i)),
				"name": value.String(fmt.Sprintf("n%d", i%3)),
			}, nil))
			cl.cluster.mu.RLock()
			owners[cl.cluster.names[int(key.PartitionID())%len(cl.cluster.names)]] = true
			cl.cluster.mu.RUnlock()
		}
		require.Greater(t, len(owners), 1, "records must be spread over several nodes")
		require.NoError(t, cl.CreateIndex(ctx, store.IndexSpec{Namespace: storetesting.Namespace, Set: "agg", Bin: "age", Name: "agg_age", Type: store.IndexNumeric}, nil))

		base := func() *store.Query {
			return store.NewQuery(storetesting.Namespace, "agg").Where(store.Between("age", 0, 100))
		}

		rows, err := cl.Results(ctx, base().Apply("stream_example", "count"), nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Result.Equal(value.Int(30)), "got %s", rows[0].Result)

		rows, err = cl.Results(ctx, base().Apply("stream_example", "sum", "age"), nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Result.Equal(value.Int(435)), "got %s", rows[0].Result)

		rows, err = cl.Results(ctx, base().Apply("stream_example", "group_count", "name"), nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Result.Equal(value.Map(map[string]value.Value{
			"n0": value.Int(10), "n1": value.Int(10), "n2": value.Int(10),
		})), "got %s", rows[0].Result)

		// plain queries still stream every record
		rows, err = cl.Results(ctx, base(), nil)
		require.NoError(t, err)
		assert.Len(t, rows, 30)
	})

	t.Run("RequestsInsideRowCallback", func(t *testing.T) {
		c := startCluster(t, tcpTransport, 1, "")
		cl := c.client(c.config())

		const count = 100
		for i := 0; i < count; i++ {
			key, err := store.NewKey(storetesting.Namespace, "nested", i)
			require.NoError(t, err)
			require.NoError(t, cl.Put(ctx, key, value.Bins{"i": value.Int(int64(i))}, nil))
		}
		require.NoError(t, cl.CreateIndex(ctx, store.IndexSpec{Namespace: storetesting.Namespace, Set: "nested", Bin: "i", Name: "nested_i", Type: store.IndexNumeric}, nil))

		// the callback is slower than the heartbeat grace window in total
		rows := 0
		err := cl.Execute(ctx, store.NewQuery(storetesting.Namespace, "nested").Where(store.Between("i", 0, count)), nil, func(row store.Row) error {
			rows++
			rec, err := cl.Get(ctx, row.Record.Key, nil)
			if err != nil {
				return err
			}
			assert.True(t, rec.Bins.Equal(row.Record.Bins))
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, count, rows)

		for _, n := range cl.Nodes() {
			assert.True(t, n.Active, "node %s was excluded during the query", n.Name)
		}
	})
}
