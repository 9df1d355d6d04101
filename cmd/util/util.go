package util

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var Logger = logger.GetLogger("rpc")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and binds RKV_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("rkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupRPCClientFlags adds the connection flags of the client to a command group
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "hosts"
	cmd.PersistentFlags().String(key, "127.0.0.1:3000", WrapString("Comma-separated list of seed hosts, tried in order until one connects (host:port for tcp, socket path for unix)"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("User name (empty = no authentication)"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password of the user"))

	key = "total-timeout"
	cmd.PersistentFlags().Duration(key, store.DefaultTotalTimeout, WrapString("End-to-end budget of a single operation including retries"))

	key = "socket-timeout"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Budget of a single attempt (0 = remaining total timeout)"))

	key = "retries"
	cmd.PersistentFlags().Int(key, store.DefaultRetryCount, WrapString("How many times a failed attempt is retried"))

	key = "heartbeat-interval"
	cmd.PersistentFlags().Duration(key, time.Second, WrapString("Interval of the liveness checks of all nodes"))

	key = "heartbeat-grace"
	cmd.PersistentFlags().Duration(key, 3*time.Second, WrapString("A node without a successful heartbeat for this long is excluded from routing"))

	key = "async-max-inflight"
	cmd.PersistentFlags().Int(key, 256, WrapString("Maximum number of concurrently running async operations"))

	key = "transport-conn-per-node"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per node"))

	key = "transport-dial-timeout"
	cmd.PersistentFlags().Duration(key, time.Second, WrapString("Timeout for establishing a connection"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, only for tcp, -1 = OS default)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("The level at which logs will be output (debug, info, warn, error)"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	config := common.DefaultClientConfig(SplitList(viper.GetString("hosts"))...)
	config.User = viper.GetString("user")
	config.Password = viper.GetString("password")
	config.TotalTimeout = viper.GetDuration("total-timeout")
	config.SocketTimeout = viper.GetDuration("socket-timeout")
	config.RetryCount = viper.GetInt("retries")
	config.HeartbeatInterval = viper.GetDuration("heartbeat-interval")
	config.HeartbeatGrace = viper.GetDuration("heartbeat-grace")
	config.AsyncMaxInflight = viper.GetInt("async-max-inflight")
	config.Transport = common.ClientTransportConfig{
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-node"),
		DialTimeout:            viper.GetDuration("transport-dial-timeout"),
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}
	return config
}

// GetSerializer creates the serializer selected by the serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	s, ok := serializer.ByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s (expected binary, cbor or json)", name)
	}
	return s, nil
}

// GetTransportFactory returns the client transport selected by the transport flag
func GetTransportFactory() (transport.ClientTransportFactory, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	case "unix":
		return unix.NewUnixClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected tcp or unix)", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport selected by the transport flag
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected tcp or unix)", viper.GetString("transport"))
	}
}

// SetupClient binds the flags of cmd, initializes the loggers and connects
// a client with the configured hosts
func SetupClient(cmd *cobra.Command) (*client.Client, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return nil, err
	}

	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	factory, err := GetTransportFactory()
	if err != nil {
		return nil, err
	}

	config := GetClientConfig()
	c := client.NewClient(config, factory, s)

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout(config))
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func connectTimeout(config common.ClientConfig) time.Duration {
	return max(config.TotalTimeout, config.Transport.DialTimeout) * time.Duration(max(len(config.Hosts), 1))
}

// --------------------------------------------------------------------------
// Parsing helpers
// --------------------------------------------------------------------------

// SplitList splits a comma-separated list and drops empty entries
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseMembers parses "node-1=host:port,node-2=host:port"
func ParseMembers(s string) (map[string]string, error) {
	members := make(map[string]string)
	for _, member := range SplitList(s) {
		name, endpoint, ok := strings.Cut(member, "=")
		if !ok || name == "" || endpoint == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected NAME=ENDPOINT)", member)
		}
		members[strings.TrimSpace(name)] = strings.TrimSpace(endpoint)
	}
	return members, nil
}

// ParseValue parses a command line literal. Literals are read as YAML, so
// 42 is an integer, 4.2 a float, [1, 2] a list and {a: 1} a map. Everything
// else is a string.
func ParseValue(s string) (value.Value, error) {
	var native any
	if err := yaml.Unmarshal([]byte(s), &native); err != nil {
		return value.String(s), nil
	}
	if native == nil && s != "" && s != "null" && s != "~" {
		return value.String(s), nil
	}
	return value.Of(native)
}

// ParseBins parses a list of NAME=VALUE arguments
func ParseBins(args []string) (value.Bins, error) {
	bins := make(value.Bins, len(args))
	for _, arg := range args {
		name, literal, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid bin %q (expected NAME=VALUE)", arg)
		}
		v, err := ParseValue(literal)
		if err != nil {
			return nil, fmt.Errorf("bin %s: %w", name, err)
		}
		bins[name] = v
	}
	return bins, nil
}

// ParseUserKey returns an integer for numeric keys and the string otherwise
func ParseUserKey(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

// ParseKey builds the key of a record. A key prefixed with "digest:" is
// addressed by its hex digest.
func ParseKey(namespace, set, key string) (*store.Key, error) {
	if hex, ok := strings.CutPrefix(key, "digest:"); ok {
		digest, err := store.ParseDigest(hex)
		if err != nil {
			return nil, err
		}
		return store.NewKeyWithDigest(namespace, set, digest)
	}
	return store.NewKey(namespace, set, ParseUserKey(key))
}
