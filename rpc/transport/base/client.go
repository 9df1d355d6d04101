package base

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/grafana/dskit/backoff"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error
}

// reconnectBackoff is used by the reader of a broken connection
var reconnectBackoff = backoff.Config{
	MinBackoff: 50 * time.Millisecond,
	MaxBackoff: 2 * time.Second,
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// pendingRequest is the entry of a request in the pending-request table.
// The reader queues frames until the final frame, fail ends the request.
// The queue is unbounded so a slow requester never blocks the reader of a
// shared connection.
type pendingRequest struct {
	mu     sync.Mutex
	queue  []frame
	ready  chan struct{} // signaled after frames were queued
	failed chan struct{} // closed by fail
	once   sync.Once
	err    error
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{
		ready:  make(chan struct{}, 1),
		failed: make(chan struct{}),
	}
}

// deliver queues a frame for the requester, it never blocks
func (p *pendingRequest) deliver(f frame) {
	p.mu.Lock()
	p.queue = append(p.queue, f)
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

// take removes and returns all queued frames
func (p *pendingRequest) take() []frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.queue
	p.queue = nil
	return frames
}

func (p *pendingRequest) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.failed)
	})
}

// clientConnection represents a single net connection
type clientConnection struct {
	parent  *clientTransport
	connMu  sync.Mutex // Protects conn and serializes writes
	conn    net.Conn
	pending *xsync.MapOf[uint64, *pendingRequest]
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientTransportConfig
	endpoint      string
	connections   []*clientConnection
	nextConnIndex atomic.Uint64 // Round Robin counter
	nextRequestID atomic.Uint64 // Unique request IDs
	closed        atomic.Bool
	ctx           context.Context // canceled on Close, stops reconnects
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &clientTransport{
		connector: connector,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(endpoint string, config common.ClientTransportConfig) error {
	if endpoint == "" {
		return store.NewError(store.ResultParameterError, "no endpoint provided")
	}
	if t.closed.Load() {
		return store.NewError(store.ResultConnectionClosed, "transport is closed")
	}
	if t.connections != nil {
		return store.NewError(store.ResultClientError, "transport is already connected")
	}

	t.config = config
	t.endpoint = endpoint

	connectionsPerEP := max(1, config.ConnectionsPerEndpoint)
	t.connections = make([]*clientConnection, connectionsPerEP)

	var lastErr error
	established := 0
	for i := range t.connections {
		c := &clientConnection{
			parent:  t,
			pending: xsync.NewMapOf[uint64, *pendingRequest](),
		}
		t.connections[i] = c

		conn, err := t.dial()
		if err != nil {
			lastErr = err
			Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
		} else {
			c.conn = conn
			established++
		}

		// the reader reconnects connections that failed initially
		t.wg.Add(1)
		go c.run(conn)
	}

	if established == 0 {
		_ = t.Close()
		return store.Errorf(store.ResultNetworkError, "failed to connect to %s: %v", endpoint, lastErr)
	}

	Logger.Debugf("Connected %d out of %d connections to %s using %s transport",
		established, connectionsPerEP, endpoint, t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	return t.Stream(ctx, shardId, req, nil)
}

func (t *clientTransport) Stream(ctx context.Context, shardId uint64, req []byte, onPart func(part []byte) error) ([]byte, error) {
	if t.closed.Load() {
		return nil, store.NewError(store.ResultConnectionClosed, "transport is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	connection := t.getNextConnection()
	if connection == nil {
		return nil, store.Errorf(store.ResultNetworkError, "no active connection to %s", t.endpoint)
	}

	requestID := t.nextRequestID.Add(1)
	p := newPendingRequest()
	connection.pending.Store(requestID, p)
	defer connection.pending.Delete(requestID)

	if err := connection.write(ctx, shardId, requestID, req); err != nil {
		return nil, err
	}

	// consume hands queued frames to onPart, done is set by the final frame
	consume := func() (resp []byte, done bool, err error) {
		for _, f := range p.take() {
			if f.final() {
				return f.data, true, nil
			}
			if onPart == nil {
				Logger.Debugf("Dropping intermediate frame of request %d", requestID)
				continue
			}
			if err := onPart(f.data); err != nil {
				return nil, true, err
			}
		}
		return nil, false, nil
	}

	for {
		select {
		case <-p.ready:
			if resp, done, err := consume(); done {
				return resp, err
			}
		case <-p.failed:
			// frames that arrived before the failure still count
			if resp, done, err := consume(); done {
				return resp, err
			}
			return nil, p.err
		case <-ctx.Done():
			return nil, contextError(ctx.Err())
		}
	}
}

func (t *clientTransport) Connected() bool {
	if t.closed.Load() {
		return false
	}
	for _, c := range t.connections {
		c.connMu.Lock()
		ok := c.conn != nil
		c.connMu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

func (t *clientTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()

	closedErr := store.NewError(store.ResultConnectionClosed, "connection closed")
	for _, c := range t.connections {
		c.failPending(closedErr)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	}

	t.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func contextError(err error) error {
	return store.Errorf(store.ResultTimeout, "request aborted: %v", err)
}

// dial establishes and upgrades a single connection
func (t *clientTransport) dial() (net.Conn, error) {
	ctx := t.ctx
	if t.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.DialTimeout)
		defer cancel()
	}

	conn, err := t.connector.Connect(ctx, t.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", t.endpoint)
	}
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "upgrade connection to %s", t.endpoint)
	}
	return conn, nil
}

// getNextConnection selects the next established connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	n := uint64(len(t.connections))
	if n == 0 {
		return nil
	}
	start := t.nextConnIndex.Add(1)
	for i := uint64(0); i < n; i++ {
		c := t.connections[(start+i)%n]
		c.connMu.Lock()
		ok := c.conn != nil
		c.connMu.Unlock()
		if ok {
			return c
		}
	}
	return nil
}

// write sends one request frame, the write deadline follows the context
func (c *clientConnection) write(ctx context.Context, shardId, requestID uint64, req []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		if c.parent.closed.Load() {
			return store.NewError(store.ResultConnectionClosed, "connection closed")
		}
		return store.Errorf(store.ResultNetworkError, "connection to %s is not established", c.parent.endpoint)
	}
	deadline, _ := ctx.Deadline() // zero = no deadline
	_ = c.conn.SetWriteDeadline(deadline)

	if err := writeFrame(c.conn, shardId, requestID, flagFinal, req); err != nil {
		// the reader notices the broken connection and reconnects
		_ = c.conn.Close()
		return store.Errorf(store.ResultNetworkError, "write request to %s: %v", c.parent.endpoint, err)
	}
	return nil
}

// failPending fails every request waiting on this connection
func (c *clientConnection) failPending(err error) {
	c.pending.Range(func(id uint64, p *pendingRequest) bool {
		p.fail(err)
		return true
	})
}

// run reads responses and distributes them to waiting requests. A broken
// connection fails its pending requests and is re-established with backoff.
func (c *clientConnection) run(conn net.Conn) {
	defer c.parent.wg.Done()

	for {
		if conn != nil {
			err := c.readResponses(conn)
			if c.parent.closed.Load() {
				c.failPending(store.NewError(store.ResultConnectionClosed, "connection closed"))
				return
			}
			Logger.Warningf("Connection to %s failed: %v", c.parent.endpoint, err)
			c.connMu.Lock()
			if c.conn == conn {
				_ = conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			c.failPending(store.Errorf(store.ResultNetworkError, "connection to %s lost: %v", c.parent.endpoint, err))
		}

		var err error
		if conn, err = c.reconnect(); err != nil {
			return
		}
	}
}

// readResponses reads frames until the connection fails
func (c *clientConnection) readResponses(conn net.Conn) error {
	for {
		f, err := readFrame(conn, nil)
		if err != nil {
			return err
		}

		if p, found := c.pending.Load(f.requestID); found {
			p.deliver(f)
		} else {
			// the requester gave up (timeout or aborted stream)
			Logger.Debugf("Received response for unknown request ID %d with shard ID %d", f.requestID, f.shardID)
		}
	}
}

// reconnect restores the connection to the endpoint. It only gives up when
// the transport is closed.
func (c *clientConnection) reconnect() (net.Conn, error) {
	retries := backoff.New(c.parent.ctx, reconnectBackoff)
	for retries.Ongoing() {
		conn, err := c.parent.dial()
		if err == nil {
			c.connMu.Lock()
			if c.parent.closed.Load() {
				c.connMu.Unlock()
				_ = conn.Close()
				return nil, store.NewError(store.ResultConnectionClosed, "transport is closed")
			}
			c.conn = conn
			c.connMu.Unlock()
			Logger.Infof("Reconnected to %s after %d attempts", c.parent.endpoint, retries.NumRetries()+1)
			return conn, nil
		}
		Logger.Debugf("Reconnect to %s failed: %v", c.parent.endpoint, err)
		retries.Wait()
	}
	return nil, retries.Err()
}
