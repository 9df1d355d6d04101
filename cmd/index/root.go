package index

import (
	"fmt"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.Client

	// IndexCommands represents the index command group
	IndexCommands = &cobra.Command{
		Use:               "index",
		Short:             "Manage secondary indexes",
		PersistentPreRunE: setupIndexClient,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if rpcClient == nil {
				return nil
			}
			return rpcClient.Close()
		},
	}
	createCmd = &cobra.Command{
		Use:   "create [namespace] [set] [bin] [name]",
		Short: "Creates a secondary index on every node",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := cmd.Flags().GetString("type")
			if err != nil {
				return err
			}
			indexType, err := store.ParseIndexType(typ)
			if err != nil {
				return err
			}
			spec := store.IndexSpec{Namespace: args[0], Set: args[1], Bin: args[2], Name: args[3], Type: indexType}
			if err := rpcClient.CreateIndex(cmd.Context(), spec, nil); err != nil {
				return err
			}
			fmt.Printf("index %s created\n", spec.Name)
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [namespace] [name]",
		Short: "Removes a secondary index from every node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcClient.RemoveIndex(cmd.Context(), args[0], args[1], nil); err != nil {
				return err
			}
			fmt.Printf("index %s removed\n", args[1])
			return nil
		},
	}
)

func init() {
	util.SetupRPCClientFlags(IndexCommands)

	createCmd.Flags().String("type", "numeric", util.WrapString("Value type of the indexed bin (numeric, string)"))

	IndexCommands.AddCommand(createCmd)
	IndexCommands.AddCommand(removeCmd)
}

func setupIndexClient(cmd *cobra.Command, _ []string) error {
	c, err := util.SetupClient(cmd)
	if err != nil {
		return err
	}
	rpcClient = c
	return nil
}
