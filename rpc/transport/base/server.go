package base

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerTransportConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerTransportConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerTransportConfig
	listener   net.Listener
	bufferPool *sync.Pool
	conns      *xsync.MapOf[net.Conn, struct{}]
	closeOnce  sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with a per-connection worker pool
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[net.Conn, struct{}](),
		stopCh:    make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerTransportConfig) (net.Addr, error) {
	if t.handler == nil {
		return nil, errors.New("no handler registered")
	}

	// minimum one worker per connection
	config.WorkersPerConn = max(config.WorkersPerConn, 1)
	if config.ReadBufferPerConn <= 0 {
		config.ReadBufferPerConn = 64 * 1024
	}
	t.config = config
	t.bufferPool = &sync.Pool{
		New: func() interface{} {
			return make([]byte, config.ReadBufferPerConn)
		},
	}

	listener, err := t.connector.Listen(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create listener")
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), config.WorkersPerConn)

	t.wg.Add(1)
	go t.accept()

	return listener.Addr(), nil
}

func (t *serverTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopCh)
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.conns.Range(func(conn net.Conn, _ struct{}) bool {
			_ = conn.Close()
			return true
		})
		t.wg.Wait()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// accept accepts connections until the transport is closed
func (t *serverTransport) accept() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.stopped() {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		t.conns.Store(conn, struct{}{})
		if t.stopped() {
			// Close may have missed this connection
			_ = conn.Close()
		}

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer t.conns.Delete(conn)
	defer conn.Close()

	// The buffered channel acts as a counting semaphore for the workers of this connection
	workerSemaphore := make(chan struct{}, t.config.WorkersPerConn)

	// Wait for all workers to finish before closing the connection
	var wg sync.WaitGroup
	defer wg.Wait()

	// Protects writes to the connection, frames of different requests may interleave
	var connMutex sync.Mutex
	write := func(shardID, requestID uint64, flags byte, data []byte) error {
		connMutex.Lock()
		defer connMutex.Unlock()
		return writeFrame(conn, shardID, requestID, flags, data)
	}

	handleRequest := func(f frame, buf []byte) {
		defer func() {
			t.bufferPool.Put(buf)
			<-workerSemaphore
			wg.Done()
		}()

		stream := func(part []byte) error {
			return write(f.shardID, f.requestID, 0, part)
		}

		start := time.Now()
		resp := t.handler(f.shardID, f.data, stream)
		Logger.Debugf("Processed request for shard %d with requestID %d took %s", f.shardID, f.requestID, time.Since(start))

		if err := write(f.shardID, f.requestID, flagFinal, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	for {
		buf := t.bufferPool.Get().([]byte)
		f, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			switch {
			case err == io.EOF:
				Logger.Debugf("Connection closed by client %s", conn.RemoteAddr())
			case t.stopped():
			default:
				Logger.Warningf("Error reading request from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		// Acquire a slot in the semaphore (blocks if WorkersPerConn is reached)
		workerSemaphore <- struct{}{}
		wg.Add(1)
		go handleRequest(f, buf)
	}
}
