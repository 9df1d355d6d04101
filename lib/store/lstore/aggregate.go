package lstore

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
)

// --------------------------------------------------------------------------
// Aggregation Registry
// --------------------------------------------------------------------------

// Aggregator reduces the records of one query execution on one node
type Aggregator interface {
	// Add feeds the (projected) bins of one matching record
	Add(bins value.Bins) error
	// Results returns the reduced values. It is only called if at least one
	// record was added.
	Results() []value.Value
}

// Function is a registered stream function
type Function struct {
	// MinArgs is the number of arguments the function needs. Additional
	// arguments are ignored.
	MinArgs int
	// New creates the aggregator for one execution
	New func(args []value.Value) (Aggregator, error)
	// Reduce combines the results of several nodes on the client
	Reduce store.Reducer
}

// Module groups stream functions by name
type Module map[string]Function

// Registry resolves (module, function) pairs
type Registry struct {
	modules map[string]Module
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds or replaces a module
func (r *Registry) Register(name string, module Module) {
	r.modules[name] = module
}

// Modules returns the sorted names of all registered modules
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prepare resolves an aggregation and checks its arguments. It returns the
// aggregator for one execution and the reducer of the function.
func (r *Registry) Prepare(agg *store.Aggregation) (Aggregator, store.Reducer, error) {
	module, ok := r.modules[agg.Module]
	if !ok {
		return nil, store.ReduceNone, udfError(store.DiagModuleNotFound, "module %q not found", agg.Module)
	}
	fn, ok := module[agg.Function]
	if !ok {
		return nil, store.ReduceNone, udfError(store.DiagFunctionNotFound, "function not found")
	}
	if len(agg.Args) < fn.MinArgs {
		return nil, store.ReduceNone, udfError(store.DiagTooFewArguments, "function %s expects %d arguments, got %d", agg.Function, fn.MinArgs, len(agg.Args))
	}
	a, err := fn.New(agg.Args)
	if err != nil {
		return nil, store.ReduceNone, udfError(store.DiagExecution, "%v", err)
	}
	return a, fn.Reduce, nil
}

func udfError(diag store.Diagnostic, format string, args ...any) *store.Error {
	return store.NewAggregationError(diag, fmt.Sprintf("UDF: Execution Error %d : %s", diag, fmt.Sprintf(format, args...)))
}

// DefaultRegistry returns a registry holding the stream_example module:
//
//	count()                 number of records
//	sum(bin)                sum of the integer values of bin
//	group_count(bin, ...)   occurrences per string value of bin
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("stream_example", Module{
		"count":       {MinArgs: 0, New: newCount, Reduce: store.ReduceAdd},
		"sum":         {MinArgs: 1, New: newSum, Reduce: store.ReduceAdd},
		"group_count": {MinArgs: 1, New: newGroupCount, Reduce: store.ReduceAdd},
	})
	return r
}

// --------------------------------------------------------------------------
// Stream Functions
// --------------------------------------------------------------------------

type countAggregator struct{ n int64 }

func newCount([]value.Value) (Aggregator, error) { return &countAggregator{}, nil }

func (c *countAggregator) Add(value.Bins) error { c.n++; return nil }

func (c *countAggregator) Results() []value.Value { return []value.Value{value.Int(c.n)} }

type sumAggregator struct {
	bin string
	sum int64
}

func newSum(args []value.Value) (Aggregator, error) {
	bin, ok := args[0].AsString()
	if !ok {
		return nil, fmt.Errorf("sum expects a bin name, got %s", args[0].Type())
	}
	return &sumAggregator{bin: bin}, nil
}

func (s *sumAggregator) Add(bins value.Bins) error {
	v, ok := bins[s.bin]
	if !ok || v.IsNil() {
		return nil
	}
	i, ok := v.AsInt()
	if !ok {
		return fmt.Errorf("sum over bin %s: value of type %s is not an integer", s.bin, v.Type())
	}
	s.sum += i
	return nil
}

func (s *sumAggregator) Results() []value.Value { return []value.Value{value.Int(s.sum)} }

type groupCountAggregator struct {
	bin    string
	counts map[string]int64
}

func newGroupCount(args []value.Value) (Aggregator, error) {
	bin, ok := args[0].AsString()
	if !ok {
		return nil, fmt.Errorf("group_count expects a bin name, got %s", args[0].Type())
	}
	return &groupCountAggregator{bin: bin, counts: make(map[string]int64)}, nil
}

func (g *groupCountAggregator) Add(bins value.Bins) error {
	if s, ok := bins[g.bin].AsString(); ok {
		g.counts[s]++
	}
	return nil
}

func (g *groupCountAggregator) Results() []value.Value {
	m := make(map[string]value.Value, len(g.counts))
	for k, n := range g.counts {
		m[k] = value.Int(n)
	}
	return []value.Value{value.Map(m)}
}
