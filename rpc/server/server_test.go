package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	server *Server
	client transport.IRPCClientTransport
	codec  serializer.IRPCSerializer
}

func startTestNode(t *testing.T, usersFile string) *testNode {
	t.Helper()
	dir := t.TempDir()
	config := common.ServerConfig{
		NodeName:   "node-1",
		Namespaces: []string{"test", "bar"},
		Engine:     common.EngineBolt,
		DataDir:    filepath.Join(dir, "data"),
		UsersFile:  usersFile,
		Transport:  common.DefaultServerTransportConfig(filepath.Join(dir, "node.sock")),
	}
	s := NewRPCServer(config, unix.NewUnixServerTransport(), serializer.NewBinarySerializer())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })

	client := unix.NewUnixClientTransport()
	require.NoError(t, client.Connect(config.Transport.Endpoint, common.DefaultClientTransportConfig()))
	t.Cleanup(func() { _ = client.Close() })

	return &testNode{server: s, client: client, codec: serializer.NewBinarySerializer()}
}

func (n *testNode) send(t *testing.T, shard uint64, req *common.Message) *common.Message {
	t.Helper()
	data, err := n.codec.Serialize(*req)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	respData, err := n.client.Send(ctx, shard, data)
	require.NoError(t, err)
	resp := new(common.Message)
	require.NoError(t, n.codec.Deserialize(respData, resp))
	return resp
}

func decodeInfo(t *testing.T, data []byte) common.NodeInfo {
	t.Helper()
	var info common.NodeInfo
	require.NoError(t, value.Unmarshal(data, &info))
	return info
}

func TestServer(t *testing.T) {
	node := startTestNode(t, "")
	shard := common.NamespaceShard("test")

	key, err := store.NewKey("test", "demo", 1)
	require.NoError(t, err)

	t.Run("LoginWithoutUsers", func(t *testing.T) {
		resp := node.send(t, common.ControlShard, common.NewLoginRequest("", ""))
		require.Nil(t, resp.Error())
		assert.Empty(t, resp.Token)

		info := decodeInfo(t, resp.Value)
		assert.Equal(t, "node-1", info.Name)
		assert.False(t, info.AuthRequired)
		assert.Equal(t, map[string]string{"node-1": node.server.Addr().String()}, info.Members)
	})

	t.Run("Heartbeat", func(t *testing.T) {
		resp := node.send(t, common.ControlShard, common.NewHeartbeatRequest(""))
		require.Nil(t, resp.Error())
		assert.Equal(t, "node-1", decodeInfo(t, resp.Value).Name)
	})

	t.Run("SetMembers", func(t *testing.T) {
		node.server.SetMembers(map[string]string{"node-2": "127.0.0.1:3001"})
		resp := node.send(t, common.ControlShard, common.NewHeartbeatRequest(""))
		require.Nil(t, resp.Error())
		members := decodeInfo(t, resp.Value).Members
		assert.Len(t, members, 2)
		assert.Equal(t, "127.0.0.1:3001", members["node-2"])
		assert.Equal(t, node.server.Addr().String(), members["node-1"])
	})

	t.Run("Records", func(t *testing.T) {
		bins, err := value.EncodeBins(value.Bins{"a": value.Int(1)})
		require.NoError(t, err)
		resp := node.send(t, shard, common.NewPutRequest(key, bins, *store.NewPolicy()))
		require.Nil(t, resp.Error())

		resp = node.send(t, shard, common.NewGetRequest(key))
		require.Nil(t, resp.Error())
		assert.Equal(t, uint32(1), resp.Generation)

		// namespaces are isolated
		resp = node.send(t, common.NamespaceShard("bar"), common.NewGetRequest(key))
		assert.Equal(t, store.ResultKeyNotFound, resp.Error().Code)
	})

	t.Run("UnknownNamespace", func(t *testing.T) {
		resp := node.send(t, common.NamespaceShard("missing"), common.NewGetRequest(key))
		assert.Equal(t, store.ResultRequestInvalid, resp.Error().Code)
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := node.client.Send(ctx, shard, []byte{0xff})
		require.NoError(t, err)
		resp := new(common.Message)
		require.NoError(t, node.codec.Deserialize(data, resp))
		assert.Equal(t, store.ResultSerializeError, resp.Error().Code)
	})

	t.Run("CloseTwice", func(t *testing.T) {
		other := startTestNode(t, "")
		assert.NoError(t, other.server.Close())
		assert.NoError(t, other.server.Close())
	})
}

func TestServerAuthentication(t *testing.T) {
	usersFile := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, WriteUsers(usersFile, testUsers(t)))
	node := startTestNode(t, usersFile)
	shard := common.NamespaceShard("test")

	key, err := store.NewKey("test", "demo", "k")
	require.NoError(t, err)

	t.Run("RequestWithoutSession", func(t *testing.T) {
		resp := node.send(t, shard, common.NewGetRequest(key))
		assert.Equal(t, store.ResultNotAuthenticated, resp.Error().Code)

		resp = node.send(t, common.ControlShard, common.NewHeartbeatRequest("forged"))
		assert.Equal(t, store.ResultNotAuthenticated, resp.Error().Code)
	})

	t.Run("InvalidCredentials", func(t *testing.T) {
		resp := node.send(t, common.ControlShard, common.NewLoginRequest("admin", "wrong"))
		assert.Equal(t, store.ResultInvalidCredential, resp.Error().Code)
	})

	t.Run("Session", func(t *testing.T) {
		resp := node.send(t, common.ControlShard, common.NewLoginRequest("admin", "admin123"))
		require.Nil(t, resp.Error())
		require.NotEmpty(t, resp.Token)
		assert.True(t, decodeInfo(t, resp.Value).AuthRequired)

		req := common.NewGetRequest(key)
		req.Token = resp.Token
		resp = node.send(t, shard, req)
		assert.Equal(t, store.ResultKeyNotFound, resp.Error().Code)
	})
}
