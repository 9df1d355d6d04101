package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/rKV/cmd/index"
	"github.com/ValentinKolb/rKV/cmd/query"
	"github.com/ValentinKolb/rKV/cmd/record"
	"github.com/ValentinKolb/rKV/cmd/serve"
	"github.com/ValentinKolb/rKV/cmd/user"
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rkv",
		Short: "record store client and dev node",
		Long: fmt.Sprintf(`rKV (v%s)

A client driver for a partitioned record database. Records are addressed
by namespace, set and user key, routed to the owning node by their digest
and queried through secondary indexes with optional aggregations.

The serve command starts a dev node speaking the same protocol.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rKV v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(record.RecordCommands)
	RootCmd.AddCommand(query.QueryCmd)
	RootCmd.AddCommand(index.IndexCommands)
	RootCmd.AddCommand(user.UserCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, cbor, json)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
