package serve

import (
	"fmt"

	cmdUtil "github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a rKV dev node",
		Long: `Start a rKV dev node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is RKV_<flag> (e.g. RKV_NODE_NAME=node-1).

A cluster is formed by starting several nodes with the same member list:

  rkv serve --node-name node-1 --endpoint :3000 --members node-1=127.0.0.1:3000,node-2=127.0.0.1:3001
  rkv serve --node-name node-2 --endpoint :3001 --members node-1=127.0.0.1:3000,node-2=127.0.0.1:3001`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "node-name"
	ServeCmd.PersistentFlags().String(key, "node-1", cmdUtil.WrapString("Unique name of the node, clients route records by the sorted node names"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:3000", cmdUtil.WrapString("The address on which the node will listen (e.g. 0.0.0.0:3000, /tmp/rkv.sock)"))

	key = "members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of all cluster members in the format 'node-1=host:3000,node-2=host:3001'. The node itself is added if missing"))

	key = "namespaces"
	ServeCmd.PersistentFlags().String(key, lstore.DefaultNamespace, cmdUtil.WrapString("Comma-separated list of namespaces served by the node"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, common.EngineMemory, cmdUtil.WrapString("Storage engine (memory, bolt)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory of the bolt database files"))

	key = "users-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("YAML file with users and bcrypt password hashes (empty = no authentication, see rkv user)"))

	key = "session-ttl"
	ServeCmd.PersistentFlags().Duration(key, common.DefaultSessionTTL, cmdUtil.WrapString("Idle time after which a session expires"))

	key = "timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Budget of requests that carry no timeout (0 = 5s)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Concurrent requests handled per connection"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus /metrics endpoint (empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	members, err := cmdUtil.ParseMembers(viper.GetString("members"))
	if err != nil {
		return err
	}

	engine := viper.GetString("engine")
	if engine != common.EngineMemory && engine != common.EngineBolt {
		return fmt.Errorf("invalid engine %s (expected %s or %s)", engine, common.EngineMemory, common.EngineBolt)
	}

	serveCmdConfig.NodeName = viper.GetString("node-name")
	if serveCmdConfig.NodeName == "" {
		return fmt.Errorf("node-name is required")
	}
	serveCmdConfig.Members = members
	serveCmdConfig.Namespaces = cmdUtil.SplitList(viper.GetString("namespaces"))
	serveCmdConfig.Engine = engine
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.UsersFile = viper.GetString("users-file")
	serveCmdConfig.SessionTTL = viper.GetDuration("session-ttl")
	serveCmdConfig.Timeout = viper.GetDuration("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Transport = common.DefaultServerTransportConfig(viper.GetString("endpoint"))
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("workers-per-conn")

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the node and blocks until it is stopped
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	fmt.Println(serveCmdConfig.String())

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}
