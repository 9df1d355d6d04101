package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
)

// --------------------------------------------------------------------------
// Formatting helpers (shared by the String methods)
// --------------------------------------------------------------------------

type configWriter struct {
	sb strings.Builder
}

func (w *configWriter) section(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (w *configWriter) field(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
}

func (w *configWriter) members(members map[string]string) {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.field(name, members[name])
	}
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf holds socket options shared by all stream transports
type SocketConf struct {
	WriteBufferSize int // SO_SNDBUF in bytes (0 = OS default)
	ReadBufferSize  int // SO_RCVBUF in bytes (0 = OS default)
}

// TCPConf holds the tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool // Disable Nagle's algorithm
	TCPKeepAliveSec int  // Keep alive period in seconds (0 = disabled)
	TCPLingerSec    int  // SO_LINGER in seconds (-1 = OS default)
}

// ClientTransportConfig configures the connections to a single node
type ClientTransportConfig struct {
	ConnectionsPerEndpoint int           // Number of connections to the node (minimum 1)
	DialTimeout            time.Duration // Timeout for establishing one connection
	SocketConf
	TCPConf
}

// ServerTransportConfig configures the listener of a node
type ServerTransportConfig struct {
	Endpoint          string // Listen address (host:port for tcp, socket path for unix)
	WorkersPerConn    int    // Concurrent requests handled per connection
	ReadBufferPerConn int    // Size of pooled read buffers in bytes
	SocketConf
	TCPConf
}

// DefaultClientTransportConfig returns the transport defaults of the client
func DefaultClientTransportConfig() ClientTransportConfig {
	return ClientTransportConfig{
		ConnectionsPerEndpoint: 1,
		DialTimeout:            time.Second,
		TCPConf:                TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
	}
}

// DefaultServerTransportConfig returns the transport defaults of a node
func DefaultServerTransportConfig(endpoint string) ServerTransportConfig {
	return ServerTransportConfig{
		Endpoint:          endpoint,
		WorkersPerConn:    64,
		ReadBufferPerConn: 64 * 1024,
		TCPConf:           TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
	}
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the connection settings and default policy of a client
type ClientConfig struct {
	// Seed hosts, tried in order until one handshake succeeds
	Hosts []string

	// Credentials (empty user = no authentication)
	User     string
	Password string

	// Default policy
	TotalTimeout  time.Duration
	SocketTimeout time.Duration
	RetryCount    int

	// Liveness
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration

	// Upper bound of concurrently running async operations
	AsyncMaxInflight int

	Transport ClientTransportConfig
}

// DefaultClientConfig returns a client configuration for the given hosts
func DefaultClientConfig(hosts ...string) ClientConfig {
	return ClientConfig{
		Hosts:             hosts,
		TotalTimeout:      store.DefaultTotalTimeout,
		RetryCount:        store.DefaultRetryCount,
		HeartbeatInterval: time.Second,
		HeartbeatGrace:    3 * time.Second,
		AsyncMaxInflight:  256,
		Transport:         DefaultClientTransportConfig(),
	}
}

// DefaultPolicy returns the policy used by operations without an explicit policy
func (c *ClientConfig) DefaultPolicy() *store.Policy {
	p := store.NewPolicy()
	if c.TotalTimeout > 0 {
		p.TotalTimeout = c.TotalTimeout
	}
	p.SocketTimeout = c.SocketTimeout
	if c.RetryCount >= 0 {
		p.RetryCount = c.RetryCount
	}
	return p
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var w configWriter

	w.section("Client Configuration")
	user := c.User
	if user == "" {
		user = "(no authentication)"
	}
	w.field("User", user)
	w.field("Total Timeout", c.TotalTimeout.String())
	w.field("Socket Timeout", c.SocketTimeout.String())
	w.field("Retry Count", strconv.Itoa(c.RetryCount))
	w.field("Heartbeat Interval", c.HeartbeatInterval.String())
	w.field("Heartbeat Grace", c.HeartbeatGrace.String())
	w.field("Async Max Inflight", strconv.Itoa(c.AsyncMaxInflight))

	w.section("Transport")
	w.field("Connections Per Node", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))
	w.field("Dial Timeout", c.Transport.DialTimeout.String())
	w.field("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))

	w.section("Hosts")
	for i, host := range c.Hosts {
		w.field(strconv.Itoa(i), host)
	}

	return w.sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// DefaultSessionTTL is the idle time after which a session expires
const DefaultSessionTTL = 10 * time.Minute

// Storage engines of a node
const (
	EngineMemory = "memory"
	EngineBolt   = "bolt"
)

// ServerConfig holds all configuration parameters of a node
type ServerConfig struct {
	// Node identity, the name is used for routing and must be unique in the cluster
	NodeName string

	// Cluster members (node name -> endpoint). The node itself is added with
	// the address of its listener if missing.
	Members map[string]string

	// Namespaces served by the node, every namespace is one shard
	Namespaces []string

	// Storage
	Engine  string
	DataDir string

	// Authentication (empty = no authentication required)
	UsersFile string
	// Idle time after which a session expires (0 = DefaultSessionTTL)
	SessionTTL time.Duration

	// Default attempt budget for requests without timeout
	Timeout time.Duration

	Transport ServerTransportConfig

	// Metrics endpoint (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var w configWriter

	w.section("Node")
	w.field("Name", c.NodeName)
	w.field("Endpoint", c.Transport.Endpoint)
	w.field("Workers Per Connection", strconv.Itoa(c.Transport.WorkersPerConn))
	w.field("Request Timeout", c.Timeout.String())

	w.section("Storage")
	w.field("Engine", c.Engine)
	if c.Engine == EngineBolt {
		w.field("Data Directory", c.DataDir)
	}
	w.field("Namespaces", strings.Join(c.Namespaces, ", "))

	w.section("Security")
	if c.UsersFile == "" {
		w.field("Authentication", "disabled")
	} else {
		w.field("Users File", c.UsersFile)
		w.field("Session TTL", c.SessionTTL.String())
	}

	w.section("Observability")
	w.field("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		w.field("Metrics Endpoint", c.MetricsEndpoint)
	}

	if len(c.Members) > 0 {
		w.section("Cluster Members")
		w.members(c.Members)
	}
	return w.sb.String()
}
