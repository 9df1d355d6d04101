package record

import (
	"fmt"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads a record",
		Long:  `Reads a record. Numeric keys are integer user keys, a key of the form digest:<hex> addresses the record by its digest.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArg(args[0])
			if err != nil {
				return err
			}
			rec, err := rpcClient.Get(cmd.Context(), key, nil)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, gen=%d, ttl=%d, bins=%s\n", key, rec.Generation, rec.Expiration, rec.Bins)
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [bin=value]...",
		Short: "Writes bins of a record",
		Long: `Writes bins of a record, other bins of an existing record are kept. A bin with an empty value removes the bin.
Values are parsed as YAML literals: 42 is an integer, 4.2 a float, [1, 2] a list, {a: 1} a map, everything else a string.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArg(args[0])
			if err != nil {
				return err
			}
			bins, err := util.ParseBins(args[1:])
			if err != nil {
				return err
			}
			policy := writePolicy()
			if generation := viper.GetInt64("generation"); generation >= 0 {
				policy.GenerationCheck = true
				policy.Generation = uint32(generation)
			}
			policy.Expiration = viper.GetUint32("expiration")
			if err := rpcClient.Put(cmd.Context(), key, bins, policy); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Removes a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArg(args[0])
			if err != nil {
				return err
			}
			policy := writePolicy()
			policy.IgnoreNotFound = viper.GetBool("ignore-not-found")
			if err := rpcClient.Remove(cmd.Context(), key, policy); err != nil {
				return err
			}
			fmt.Println("remove successfully")
			return nil
		},
	}
	existsCmd = &cobra.Command{
		Use:   "exists [key]",
		Short: "Checks if a record exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArg(args[0])
			if err != nil {
				return err
			}
			found, err := rpcClient.Exists(cmd.Context(), key, nil)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	digestCmd = &cobra.Command{
		Use:   "digest [key]",
		Short: "Prints the digest and partition of a key (no connection needed)",
		Args:  cobra.ExactArgs(1),
		// digests are computed locally
		PersistentPreRunE:  func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyArg(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("digest=%s, partition=%d\n", key.Digest(), key.PartitionID())
			return nil
		},
	}
)

func init() {
	putCmd.Flags().Int64("generation", -1, util.WrapString("Only write if the stored generation equals this value (0 = record must not exist, -1 = no check)"))
	putCmd.Flags().Uint32("expiration", 0, util.WrapString("Seconds to live of the record (0 = never expire)"))
	removeCmd.Flags().Bool("ignore-not-found", false, util.WrapString("Succeed if the record does not exist"))
}

// writePolicy returns the policy of write commands with the timeouts of the client
func writePolicy() *store.Policy {
	config := util.GetClientConfig()
	return &store.Policy{
		TotalTimeout:  config.TotalTimeout,
		SocketTimeout: config.SocketTimeout,
		RetryCount:    config.RetryCount,
	}
}
