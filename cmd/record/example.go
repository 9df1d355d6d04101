package record

import (
	"fmt"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Writes a sample record and reads it back asynchronously by digest",
	Args:  cobra.NoArgs,
	RunE:  runExample,
}

func init() {
	exampleCmd.Flags().String("key", "111", util.WrapString("User key of the sample record (always a string key)"))
	exampleCmd.Flags().Duration("read-timeout", store.DefaultTotalTimeout, util.WrapString("Total timeout of the async read"))
}

// sampleBins holds every value type a record supports
func sampleBins() value.Bins {
	xyz := value.List(value.String("x"), value.String("y"), value.String("z"))
	counts := value.Map(map[string]value.Value{"x": value.Int(1), "y": value.Int(2), "z": value.Int(3)})
	return value.Bins{
		"i": value.Int(123),
		"f": value.Float(3.1415),
		"s": value.String("abc"),
		"u": value.String("안녕하세요"),
		"l": value.List(value.Int(123), value.String("abc"), value.String("안녕하세요"), xyz, counts),
		"m": value.Map(map[string]value.Value{
			"i": value.Int(123),
			"s": value.String("abc"),
			"u": value.String("안녕하세요"),
			"l": xyz,
			"d": counts,
		}),
	}
}

func runExample(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	namespace, set := viper.GetString("namespace"), viper.GetString("set")

	key, err := store.NewKey(namespace, set, viper.GetString("key"))
	if err != nil {
		return err
	}
	fmt.Printf("key=%s, digest=%s\n", key, key.Digest())

	if err := rpcClient.Put(ctx, key, sampleBins(), nil); err != nil {
		return err
	}

	// the read only knows the digest of the record
	byDigest, err := store.NewKeyWithDigest(namespace, set, key.Digest())
	if err != nil {
		return err
	}
	future := rpcClient.GetAsync(byDigest, &store.Policy{TotalTimeout: viper.GetDuration("read-timeout")}, func(rec *store.Record, err error) {
		if err != nil {
			util.Logger.Warningf("Async get of %s failed: %v", byDigest, err)
		}
	})

	rec, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("gen=%d, ttl=%d, bins=%s\n", rec.Generation, rec.Expiration, rec.Bins)
	return nil
}
