package record

import (
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// RecordCommands represents the record command group
	RecordCommands = &cobra.Command{
		Use:                "record",
		Short:              "Perform record operations",
		PersistentPreRunE:  setupRecordClient,
		PersistentPostRunE: closeRecordClient,
	}
)

func init() {
	util.SetupRPCClientFlags(RecordCommands)

	RecordCommands.PersistentFlags().String("namespace", "test", util.WrapString("Namespace of the records"))
	RecordCommands.PersistentFlags().String("set", "demo", util.WrapString("Set of the records"))

	RecordCommands.AddCommand(getCmd)
	RecordCommands.AddCommand(putCmd)
	RecordCommands.AddCommand(removeCmd)
	RecordCommands.AddCommand(existsCmd)
	RecordCommands.AddCommand(digestCmd)
	RecordCommands.AddCommand(exampleCmd)
	RecordCommands.AddCommand(benchCmd)
}

// setupRecordClient connects the client used by all record commands
func setupRecordClient(cmd *cobra.Command, _ []string) error {
	c, err := util.SetupClient(cmd)
	if err != nil {
		return err
	}
	rpcClient = c
	return nil
}

func closeRecordClient(*cobra.Command, []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// keyArg builds the key of the record named by a command argument
func keyArg(arg string) (*store.Key, error) {
	return util.ParseKey(viper.GetString("namespace"), viper.GetString("set"), arg)
}
