package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/pkg/errors"
)

// authState is the authentication state of a node connection
type authState int32

const (
	authUnauthenticated authState = iota
	authAuthenticated
	authFailed
)

func (s authState) String() string {
	switch s {
	case authAuthenticated:
		return "authenticated"
	case authFailed:
		return "failed"
	default:
		return "unauthenticated"
	}
}

// NodeStatus describes a cluster node as seen by the client
type NodeStatus struct {
	Name          string
	Endpoint      string
	Active        bool   // false while the node is excluded from routing
	Authenticated string // authentication state of the connection
	LastSeen      time.Time
}

// node is the connection of the client to one cluster node.
// Only the login handshake is sent while the node is not authenticated.
type node struct {
	name     string
	endpoint string
	cluster  *cluster

	mu        sync.RWMutex // protects transport, token, state, lastSeen
	transport transport.IRPCClientTransport
	token     string
	state     authState
	lastSeen  time.Time

	loginMu sync.Mutex // serializes logins of this node
	active  atomic.Bool
}

func newNode(c *cluster, name, endpoint string) *node {
	return &node{name: name, endpoint: endpoint, cluster: c}
}

// --------------------------------------------------------------------------
// Connection and session
// --------------------------------------------------------------------------

// connect dials the node and performs the login handshake
func (n *node) connect(ctx context.Context) (common.NodeInfo, error) {
	n.loginMu.Lock()
	defer n.loginMu.Unlock()

	t := n.cluster.factory()
	if err := t.Connect(n.endpoint, n.cluster.config.Transport); err != nil {
		_ = t.Close()
		return common.NodeInfo{}, err
	}

	token, info, err := n.login(ctx, t)
	if err != nil {
		_ = t.Close()
		n.mu.Lock()
		if errors.Is(err, store.ErrAuthentication) {
			n.state = authFailed
		}
		n.mu.Unlock()
		return common.NodeInfo{}, err
	}

	n.mu.Lock()
	old := n.transport
	n.transport = t
	n.token = token
	n.state = authAuthenticated
	n.lastSeen = time.Now()
	n.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if n.name == "" {
		n.name = info.Name
	}
	n.active.Store(true)
	return info, nil
}

// login sends the login request on t and returns the session token
func (n *node) login(ctx context.Context, t transport.IRPCClientTransport) (string, common.NodeInfo, error) {
	cfg := n.cluster.config
	req := common.NewLoginRequest(cfg.User, cfg.Password)
	resp, err := invokeRPCRequest(ctx, common.ControlShard, req, t, n.cluster.serializer, nil)
	if err != nil {
		return "", common.NodeInfo{}, err
	}
	info, err := decodeNodeInfo(resp.Value)
	if err != nil {
		return "", common.NodeInfo{}, err
	}
	if info.AuthRequired && cfg.User == "" {
		return "", info, store.NewError(store.ResultInvalidCredential, "node requires authentication but no user is configured")
	}
	return resp.Token, info, nil
}

// relogin opens a new session after the node reported the session with
// staleToken as unknown. Concurrent callers share one login.
func (n *node) relogin(ctx context.Context, staleToken string) error {
	n.loginMu.Lock()
	defer n.loginMu.Unlock()

	n.mu.RLock()
	t, token, state := n.transport, n.token, n.state
	n.mu.RUnlock()
	if t == nil {
		return store.Errorf(store.ResultServerNotAvailable, "node %s is not connected", n.name)
	}
	if token != staleToken && state == authAuthenticated {
		// another request already re-logged in
		return nil
	}

	n.setState(authUnauthenticated)
	token, _, err := n.login(ctx, t)
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		if errors.Is(err, store.ErrAuthentication) {
			n.state = authFailed
		}
		return err
	}
	n.token = token
	n.state = authAuthenticated
	Logger.Infof("Re-authenticated to node %s", n.name)
	return nil
}

func (n *node) setState(state authState) {
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
}

// session returns the transport and token for a request. It fails if the
// node is not authenticated.
func (n *node) session() (transport.IRPCClientTransport, string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.transport == nil || n.state != authAuthenticated {
		return nil, "", store.Errorf(store.ResultServerNotAvailable, "node %s is not available (%s)", n.name, n.state)
	}
	return n.transport, n.token, nil
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// request sends a request to the node. A NotAuthenticated reply triggers one
// re-login and one resend.
func (n *node) request(ctx context.Context, shard uint64, req *common.Message, onPart func(*common.Message) error) (*common.Message, error) {
	if shard != common.ControlShard && !n.isActive() {
		return nil, store.Errorf(store.ResultServerNotAvailable, "node %s is not available", n.name)
	}
	t, token, err := n.session()
	if err != nil {
		return nil, err
	}
	msg := *req
	msg.Token = token
	resp, err := invokeRPCRequest(ctx, shard, &msg, t, n.cluster.serializer, onPart)
	if store.CodeOf(err) != store.ResultNotAuthenticated {
		return resp, err
	}

	Logger.Debugf("Session on node %s expired, logging in again", n.name)
	if err := n.relogin(ctx, token); err != nil {
		return nil, err
	}
	if t, token, err = n.session(); err != nil {
		return nil, err
	}
	msg.Token = token
	return invokeRPCRequest(ctx, shard, &msg, t, n.cluster.serializer, onPart)
}

// heartbeat checks the liveness of the node and returns its view of the cluster
func (n *node) heartbeat(ctx context.Context) (common.NodeInfo, error) {
	n.mu.RLock()
	t, token, state := n.transport, n.token, n.state
	n.mu.RUnlock()
	if t == nil {
		return common.NodeInfo{}, store.Errorf(store.ResultServerNotAvailable, "node %s is not connected", n.name)
	}
	if state != authAuthenticated {
		if err := n.relogin(ctx, token); err != nil {
			return common.NodeInfo{}, err
		}
	}

	resp, err := n.request(ctx, common.ControlShard, common.NewHeartbeatRequest(""), nil)
	if err != nil {
		return common.NodeInfo{}, err
	}
	n.mu.Lock()
	n.lastSeen = time.Now()
	n.mu.Unlock()
	return decodeNodeInfo(resp.Value)
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

func (n *node) isActive() bool {
	return n.active.Load()
}

// connected reports whether the node has an authenticated session
func (n *node) connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.transport != nil && n.state == authAuthenticated
}

func (n *node) since() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return time.Since(n.lastSeen)
}

func (n *node) status() NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return NodeStatus{
		Name:          n.name,
		Endpoint:      n.endpoint,
		Active:        n.active.Load(),
		Authenticated: n.state.String(),
		LastSeen:      n.lastSeen,
	}
}

func (n *node) close() {
	n.active.Store(false)
	n.mu.Lock()
	t := n.transport
	n.transport = nil
	n.state = authUnauthenticated
	n.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}
