package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// QueryCmd runs a secondary index query
	QueryCmd = &cobra.Command{
		Use:   "query [namespace] [set]",
		Short: "Queries the records of a set",
		Long: `Queries the records of a set on all nodes. A predicate needs a matching secondary index (see rkv index).
Aggregations run on every node, so one result row per node is printed.

  rkv query test demo --between age=21:30 --select name,age
  rkv query test demo --equals name=alice
  rkv query test demo --between age=0:100 --apply stream_example.group_count --arg name`,
		Args:              cobra.ExactArgs(2),
		PersistentPreRunE: setupQueryClient,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if rpcClient == nil {
				return nil
			}
			return rpcClient.Close()
		},
		RunE: run,
	}
)

func init() {
	util.SetupRPCClientFlags(QueryCmd)

	QueryCmd.Flags().String("select", "", util.WrapString("Comma-separated list of bins to return (empty = all bins)"))
	QueryCmd.Flags().String("equals", "", util.WrapString("Equality predicate BIN=VALUE (integer or string value)"))
	QueryCmd.Flags().String("between", "", util.WrapString("Range predicate BIN=LOW:HIGH on an integer bin (bounds inclusive)"))
	QueryCmd.Flags().String("apply", "", util.WrapString("Aggregation MODULE.FUNCTION applied to the matching records"))
	QueryCmd.Flags().StringArray("arg", nil, util.WrapString("Argument of the aggregation, may be repeated"))
}

func setupQueryClient(cmd *cobra.Command, _ []string) error {
	c, err := util.SetupClient(cmd)
	if err != nil {
		return err
	}
	rpcClient = c
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(cmd, args[0], args[1])
	if err != nil {
		return err
	}

	rows := 0
	err = rpcClient.Execute(cmd.Context(), q, nil, func(row store.Row) error {
		rows++
		if row.IsAggregate() {
			fmt.Printf("result=%s\n", row.Result)
			return nil
		}
		rec := row.Record
		fmt.Printf("digest=%s, gen=%d, ttl=%d, bins=%s\n", rec.Key.Digest(), rec.Generation, rec.Expiration, rec.Bins)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d rows\n", rows)
	return nil
}

// buildQuery creates the query described by the flags
func buildQuery(cmd *cobra.Command, namespace, set string) (*store.Query, error) {
	q := store.NewQuery(namespace, set)
	if bins := util.SplitList(viper.GetString("select")); len(bins) > 0 {
		q.Select(bins...)
	}

	equals, between := viper.GetString("equals"), viper.GetString("between")
	switch {
	case equals != "" && between != "":
		return nil, fmt.Errorf("only one of --equals and --between can be used")
	case equals != "":
		bin, literal, ok := strings.Cut(equals, "=")
		if !ok {
			return nil, fmt.Errorf("invalid predicate %q (expected BIN=VALUE)", equals)
		}
		v, err := util.ParseValue(literal)
		if err != nil {
			return nil, err
		}
		q.Where(store.Equals(bin, v.Interface()))
	case between != "":
		bin, bounds, ok := strings.Cut(between, "=")
		low, high, ok2 := strings.Cut(bounds, ":")
		if !ok || !ok2 {
			return nil, fmt.Errorf("invalid predicate %q (expected BIN=LOW:HIGH)", between)
		}
		lo, err := strconv.ParseInt(low, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid lower bound: %w", err)
		}
		hi, err := strconv.ParseInt(high, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid upper bound: %w", err)
		}
		q.Where(store.Between(bin, lo, hi))
	}

	if apply := viper.GetString("apply"); apply != "" {
		module, function, ok := strings.Cut(apply, ".")
		if !ok {
			return nil, fmt.Errorf("invalid aggregation %q (expected MODULE.FUNCTION)", apply)
		}
		literals, err := cmd.Flags().GetStringArray("arg")
		if err != nil {
			return nil, err
		}
		var aggArgs []any
		for _, arg := range literals {
			v, err := util.ParseValue(arg)
			if err != nil {
				return nil, err
			}
			aggArgs = append(aggArgs, v)
		}
		q.Apply(module, function, aggArgs...)
	}
	return q, nil
}
