package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/rKV/lib/db/engines/memory"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// defaultRequestTimeout bounds requests that carry no timeout
const defaultRequestTimeout = 5 * time.Second

// serverShard is a struct that represents a shard in the RPC server.
// Every namespace is one shard, all shards share the store of the node.
type serverShard struct {
	Namespace string
	Store     store.IStore
	Adapter   IRPCServerAdapter
}

// Server is a single node of an rKV cluster
type Server struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	store      store.IStore
	auth       *authenticator

	membersMu sync.RWMutex
	members   map[string]string

	addr          net.Addr
	metricsServer *http.Server
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	members := make(map[string]string, len(config.Members))
	for name, endpoint := range config.Members {
		members[name] = endpoint
	}

	return &Server{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
		members:    members,
		stopCh:     make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start initializes the store and the shards and starts listening.
// It returns once the node accepts connections.
func (s *Server) Start() error {
	if s.config.NodeName == "" {
		return errors.New("node name must not be empty")
	}

	// Authentication
	var users *UsersConfig
	if s.config.UsersFile != "" {
		var err error
		if users, err = LoadUsers(s.config.UsersFile); err != nil {
			return err
		}
	}
	ttl := s.config.SessionTTL
	if ttl <= 0 {
		ttl = common.DefaultSessionTTL
	}
	s.auth = newAuthenticator(users, ttl)

	// Store and shards
	st, err := lstore.NewLocalStore(s.dbFactory(), &lstore.Options{Namespaces: s.config.Namespaces})
	if err != nil {
		return errors.Wrap(err, "failed to create store")
	}
	s.store = st

	namespaces := s.config.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{lstore.DefaultNamespace}
	}
	adapter := NewIStoreServerAdapter()
	for _, ns := range namespaces {
		s.shards.Store(common.NamespaceShard(ns), serverShard{Namespace: ns, Store: st, Adapter: adapter})
		Logger.Infof("Serving namespace %s on shard %d", ns, common.NamespaceShard(ns))
	}

	// Transport
	s.transport.RegisterHandler(s.handle)
	addr, err := s.transport.Listen(s.config.Transport)
	if err != nil {
		_ = st.Close()
		return err
	}
	s.addr = addr

	s.membersMu.Lock()
	if _, ok := s.members[s.config.NodeName]; !ok {
		s.members[s.config.NodeName] = addr.String()
	}
	s.membersMu.Unlock()

	if s.auth.required() {
		s.wg.Add(1)
		go s.expireSessions(ttl)
	}

	if s.config.MetricsEndpoint != "" {
		s.startMetrics()
	}

	Logger.Infof("rKV node %s started on %s", s.config.NodeName, addr)
	return nil
}

// Serve starts the node and blocks until SIGINT or SIGTERM
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case received := <-sig:
		Logger.Infof("Received %s, shutting down", received)
	case <-s.stopCh:
	}
	return s.Close()
}

// Close stops the node. Closing twice is a no-op.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		err = s.transport.Close()
		if s.metricsServer != nil {
			_ = s.metricsServer.Close()
		}
		s.wg.Wait()
		if s.store != nil {
			if closeErr := s.store.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		Logger.Infof("rKV node %s stopped", s.config.NodeName)
	})
	return err
}

// Addr returns the address of the listener (nil before Start)
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Name returns the node name
func (s *Server) Name() string {
	return s.config.NodeName
}

// SetMembers replaces the cluster members reported to clients. The node
// itself stays a member.
func (s *Server) SetMembers(members map[string]string) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	self, ok := s.members[s.config.NodeName]
	s.members = make(map[string]string, len(members)+1)
	for name, endpoint := range members {
		s.members[name] = endpoint
	}
	if _, found := s.members[s.config.NodeName]; !found && ok {
		s.members[s.config.NodeName] = self
	}
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

// handle is the transport handler of the node
func (s *Server) handle(shardId uint64, req []byte, stream transport.StreamFunc) []byte {
	start := time.Now()

	var msg common.Message
	var resp *common.Message
	if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(store.Errorf(store.ResultSerializeError, "failed to deserialize request: %v", err))
	} else if shardId == common.ControlShard {
		resp = s.handleControl(&msg)
	} else {
		resp = s.handleShard(shardId, &msg, stream)
	}

	observeRequest(msg.MsgType, resp, time.Since(start))
	return s.encode(resp)
}

// handleControl answers the session handshake and heartbeats
func (s *Server) handleControl(msg *common.Message) *common.Message {
	switch msg.MsgType {
	case common.MsgTLogin:
		token, err := s.auth.login(msg.User, string(msg.Value))
		if err != nil {
			Logger.Warningf("Rejected login of user %q: %v", msg.User, err)
			return common.NewLoginResponse("", nil, err)
		}
		info, err := s.nodeInfo()
		return common.NewLoginResponse(token, info, err)
	case common.MsgTHeartbeat:
		if err := s.auth.check(msg.Token); err != nil {
			return common.NewHeartbeatResponse(nil, err)
		}
		info, err := s.nodeInfo()
		return common.NewHeartbeatResponse(info, err)
	default:
		return common.NewErrorResponse(store.Errorf(store.ResultRequestInvalid,
			"unsupported message type %s on control shard", msg.MsgType))
	}
}

// handleShard passes a request to the adapter of its namespace
func (s *Server) handleShard(shardId uint64, msg *common.Message, stream transport.StreamFunc) *common.Message {
	shard, ok := s.shards.Load(shardId)
	if !ok {
		return common.NewErrorResponse(store.Errorf(store.ResultRequestInvalid, "namespace not found (shard %d)", shardId))
	}
	if err := s.auth.check(msg.Token); err != nil {
		return common.NewErrorResponse(err)
	}

	timeout := s.config.Timeout
	if msg.Timeout > 0 {
		timeout = time.Duration(msg.Timeout) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return shard.Adapter.Handle(ctx, shard.Namespace, msg, shard.Store, func(part *common.Message) error {
		return stream(s.encode(part))
	})
}

// encode serializes a response. A response that cannot be serialized is
// replaced by an error response.
func (s *Server) encode(msg *common.Message) []byte {
	data, err := s.serializer.Serialize(*msg)
	if err == nil {
		return data
	}
	Logger.Errorf("Failed to serialize %s response: %v", msg.MsgType, err)
	data, err = s.serializer.Serialize(*common.NewErrorResponse(
		store.Errorf(store.ResultSerializeError, "failed to serialize response: %v", err)))
	if err != nil {
		Logger.Errorf("Failed to serialize error response: %v", err)
	}
	return data
}

// nodeInfo encodes the identity and membership reported to clients
func (s *Server) nodeInfo() ([]byte, error) {
	s.membersMu.RLock()
	members := make(map[string]string, len(s.members))
	for name, endpoint := range s.members {
		members[name] = endpoint
	}
	s.membersMu.RUnlock()

	data, err := value.Marshal(common.NodeInfo{
		Name:         s.config.NodeName,
		Members:      members,
		AuthRequired: s.auth.required(),
	})
	if err != nil {
		return nil, store.Errorf(store.ResultSerializeError, "encode node info: %v", err)
	}
	return data, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dbFactory returns the factory of the configured storage engine
func (s *Server) dbFactory() store.DBFactory {
	if s.config.Engine == common.EngineBolt {
		path := filepath.Join(s.config.DataDir, fmt.Sprintf("%s.db", s.config.NodeName))
		return func() (db.KVDB, error) {
			if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create data directory")
			}
			return bolt.NewBoltDB(path, nil)
		}
	}
	return func() (db.KVDB, error) { return memory.NewMemoryDB(), nil }
}

// expireSessions removes idle sessions until the node stops
func (s *Server) expireSessions(ttl time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(max(ttl/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.auth.expire()
		case <-s.stopCh:
			return
		}
	}
}

// startMetrics exposes the metrics in prometheus format
func (s *Server) startMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metricsServer = &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		Logger.Infof("Serving metrics on http://%s/metrics", s.config.MetricsEndpoint)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
}
