package client

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// cluster keeps the connections to all known nodes and routes requests
type cluster struct {
	config     common.ClientConfig
	factory    transport.ClientTransportFactory
	serializer serializer.IRPCSerializer

	mu    sync.RWMutex
	nodes map[string]*node
	names []string // sorted node names, used for routing

	connected atomic.Bool
	closed    atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func newCluster(config common.ClientConfig, factory transport.ClientTransportFactory, s serializer.IRPCSerializer) *cluster {
	return &cluster{
		config:     config,
		factory:    factory,
		serializer: s,
		nodes:      make(map[string]*node),
		stopCh:     make(chan struct{}),
	}
}

// errNotConnected is returned by every operation before Connect succeeded
func errNotConnected() error {
	return store.NewError(store.ResultClusterUnavailable, "no connection to cluster")
}

// --------------------------------------------------------------------------
// Connect and close
// --------------------------------------------------------------------------

// connect tries the seed hosts in order until one handshake succeeds, then
// registers every member reported by that node
func (c *cluster) connect(ctx context.Context) error {
	if c.closed.Load() {
		return store.NewError(store.ResultConnectionClosed, "client is closed")
	}
	if c.connected.Load() {
		return nil
	}
	if len(c.config.Hosts) == 0 {
		return store.NewError(store.ResultParameterError, "no hosts configured")
	}

	var lastErr error
	for _, host := range c.config.Hosts {
		seed := newNode(c, "", host)
		info, err := seed.connect(ctx)
		if err != nil {
			if errors.Is(err, store.ErrAuthentication) {
				return err
			}
			Logger.Warningf("Failed to connect to seed host %s: %v", host, err)
			lastErr = err
			continue
		}

		c.register(seed)
		Logger.Infof("Connected to node %s at %s", seed.name, host)
		c.addMembers(ctx, info.Members)

		c.connected.Store(true)
		c.wg.Add(1)
		go c.heartbeatLoop()
		return nil
	}
	return store.Errorf(store.ResultClusterUnavailable, "no connection to cluster: %v", lastErr)
}

// close stops the heartbeat loop and closes every node connection
func (c *cluster) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()

	for _, n := range c.allNodes() {
		n.close()
	}
}

// --------------------------------------------------------------------------
// Membership
// --------------------------------------------------------------------------

// register adds a node to the routing table. Known names are ignored.
func (c *cluster) register(n *node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[n.name]; ok {
		return false
	}
	c.nodes[n.name] = n
	c.names = append(c.names, n.name)
	sort.Strings(c.names)
	return true
}

// addMembers registers and connects the members that are not known yet.
// Members that cannot be reached are registered as unreachable.
func (c *cluster) addMembers(ctx context.Context, members map[string]string) {
	var g errgroup.Group
	for name, endpoint := range members {
		n := newNode(c, name, endpoint)
		if !c.register(n) {
			continue
		}
		g.Go(func() error {
			if _, err := n.connect(ctx); err != nil {
				Logger.Warningf("Node %s at %s is unreachable: %v", name, endpoint, err)
				return nil
			}
			Logger.Infof("Connected to node %s at %s", name, endpoint)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *cluster) allNodes() []*node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]*node, 0, len(c.names))
	for _, name := range c.names {
		nodes = append(nodes, c.nodes[name])
	}
	return nodes
}

// nodeFor returns the owner of a key: sorted names[partition mod members]
func (c *cluster) nodeFor(key *store.Key) (*node, error) {
	if !c.connected.Load() {
		return nil, errNotConnected()
	}
	if c.closed.Load() {
		return nil, store.NewError(store.ResultConnectionClosed, "client is closed")
	}
	c.mu.RLock()
	if len(c.names) == 0 {
		c.mu.RUnlock()
		return nil, errNotConnected()
	}
	owner := c.nodes[c.names[int(key.PartitionID())%len(c.names)]]
	c.mu.RUnlock()

	if !owner.isActive() {
		return nil, store.Errorf(store.ResultServerNotAvailable, "node %s owning partition %d is not available", owner.name, key.PartitionID())
	}
	return owner, nil
}

// members returns every registered node. Requests to nodes that are not
// available fail with a retryable ServerNotAvailable error.
func (c *cluster) members() ([]*node, error) {
	if !c.connected.Load() {
		return nil, errNotConnected()
	}
	if c.closed.Load() {
		return nil, store.NewError(store.ResultConnectionClosed, "client is closed")
	}
	nodes := c.allNodes()
	if len(nodes) == 0 {
		return nil, errNotConnected()
	}
	return nodes, nil
}

// --------------------------------------------------------------------------
// Heartbeats
// --------------------------------------------------------------------------

func (c *cluster) heartbeatLoop() {
	defer c.wg.Done()

	interval := c.config.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.heartbeat(interval)
		case <-c.stopCh:
			return
		}
	}
}

// heartbeat pings every node once. Nodes without a successful heartbeat
// within the grace period are excluded from routing until they answer again.
func (c *cluster) heartbeat(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	grace := c.config.HeartbeatGrace
	if grace <= 0 {
		grace = 3 * timeout
	}

	var mu sync.Mutex
	discovered := make(map[string]string)

	var g errgroup.Group
	for _, n := range c.allNodes() {
		g.Go(func() error {
			info, err := c.ping(ctx, n)
			if err != nil {
				Logger.Debugf("Heartbeat of node %s failed: %v", n.name, err)
				if n.isActive() && n.since() > grace {
					n.active.Store(false)
					Logger.Warningf("Node %s missed heartbeats for %s, excluding it from routing", n.name, grace)
				}
				return nil
			}
			if n.active.CompareAndSwap(false, true) {
				Logger.Infof("Node %s is available again", n.name)
			}
			mu.Lock()
			for name, endpoint := range info.Members {
				discovered[name] = endpoint
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if !c.closed.Load() {
		c.addMembers(ctx, discovered)
	}
}

// ping sends a heartbeat, nodes without a connection are dialed again
func (c *cluster) ping(ctx context.Context, n *node) (common.NodeInfo, error) {
	n.mu.RLock()
	t := n.transport
	n.mu.RUnlock()
	if t == nil {
		return n.connect(ctx)
	}
	return n.heartbeat(ctx)
}
