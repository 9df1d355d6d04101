package store

import (
	"fmt"

	"github.com/ValentinKolb/rKV/lib/value"
)

// --------------------------------------------------------------------------
// Predicates
// --------------------------------------------------------------------------

// PredicateType selects the comparison of a predicate
type PredicateType uint8

const (
	PredicateEquals  PredicateType = iota + 1 // Bin equals a value
	PredicateBetween                          // Bin is in the inclusive integer range [Low, High]
)

// Predicate filters query results on one indexed bin
type Predicate struct {
	Type  PredicateType `cbor:"1,keyasint"`
	Bin   string        `cbor:"2,keyasint"`
	Value value.Value   `cbor:"3,keyasint"`
	Low   int64         `cbor:"4,keyasint"`
	High  int64         `cbor:"5,keyasint"`

	err error
}

// Equals matches records whose bin equals v. v must be an integer, a
// boolean or a string.
func Equals(bin string, v any) Predicate {
	p := Predicate{Type: PredicateEquals, Bin: bin}
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint8, uint16, uint32:
		p.Value = value.MustOf(v)
	default:
		p.err = fmt.Errorf("unsupported equals value of type %T", v)
	}
	return p
}

// Between matches records whose integer bin lies in [low, high]. Bounds
// must be integers or booleans.
func Between(bin string, low, high any) Predicate {
	p := Predicate{Type: PredicateBetween, Bin: bin}
	lo, errLo := integerBound(low)
	hi, errHi := integerBound(high)
	switch {
	case errLo != nil:
		p.err = errLo
	case errHi != nil:
		p.err = errHi
	}
	p.Low, p.High = lo, hi
	return p
}

func integerBound(v any) (int64, error) {
	switch v.(type) {
	case bool, int, int8, int16, int32, int64, uint8, uint16, uint32:
		i, _ := value.MustOf(v).AsInt()
		return i, nil
	}
	return 0, fmt.Errorf("unsupported range bound of type %T", v)
}

// IndexType returns the index type a predicate needs
func (p Predicate) IndexType() IndexType {
	if p.Type == PredicateEquals && p.Value.Type() == value.TypeString {
		return IndexString
	}
	return IndexNumeric
}

// Validate checks that the predicate is well formed
func (p Predicate) Validate() error {
	if p.err != nil || p.Bin == "" {
		return NewError(ResultParameterError, "predicate is invalid.")
	}
	switch p.Type {
	case PredicateEquals:
		if t := p.Value.Type(); t != value.TypeInt && t != value.TypeString {
			return NewError(ResultParameterError, "predicate is invalid.")
		}
	case PredicateBetween:
	default:
		return NewError(ResultParameterError, "predicate is invalid.")
	}
	return nil
}

// Matches reports whether a bin value satisfies the predicate
func (p Predicate) Matches(v value.Value) bool {
	switch p.Type {
	case PredicateEquals:
		return v.Equal(p.Value)
	case PredicateBetween:
		i, ok := v.AsInt()
		return ok && i >= p.Low && i <= p.High
	}
	return false
}

// String returns a human readable representation of the predicate
func (p Predicate) String() string {
	if p.Type == PredicateBetween {
		return fmt.Sprintf("%s between [%d, %d]", p.Bin, p.Low, p.High)
	}
	return fmt.Sprintf("%s == %s", p.Bin, p.Value)
}

// --------------------------------------------------------------------------
// Aggregation
// --------------------------------------------------------------------------

// Aggregation names a server side stream function applied to query results
type Aggregation struct {
	Module   string        `cbor:"1,keyasint"`
	Function string        `cbor:"2,keyasint"`
	Args     []value.Value `cbor:"3,keyasint"`
}

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

// QuerySpec is the immutable description of a query as sent to the nodes
type QuerySpec struct {
	Namespace   string       `cbor:"1,keyasint"`
	Set         string       `cbor:"2,keyasint"`
	Bins        []string     `cbor:"3,keyasint,omitempty"`
	Predicate   *Predicate   `cbor:"4,keyasint,omitempty"`
	Aggregation *Aggregation `cbor:"5,keyasint,omitempty"`
}

// Query is built incrementally and may be executed any number of times.
// Every execution works on a snapshot taken when it starts.
type Query struct {
	spec QuerySpec
	err  error
}

// NewQuery creates a query over a namespace and an optional set
func NewQuery(namespace, set string) *Query {
	return &Query{spec: QuerySpec{Namespace: namespace, Set: set}}
}

// Select restricts the returned bins. No bins selects all bins.
func (q *Query) Select(bins ...string) *Query {
	q.spec.Bins = append([]string(nil), bins...)
	return q
}

// Where sets the predicate of the query
func (q *Query) Where(p Predicate) *Query {
	q.spec.Predicate = &p
	return q
}

// Apply sets the aggregation of the query. An empty module and function
// removes the aggregation.
func (q *Query) Apply(module, function string, args ...any) *Query {
	q.err = nil
	if module == "" && function == "" {
		q.spec.Aggregation = nil
		return q
	}
	agg := &Aggregation{Module: module, Function: function, Args: make([]value.Value, 0, len(args))}
	for i, arg := range args {
		v, err := value.Of(arg)
		if err != nil {
			q.err = fmt.Errorf("aggregation argument %d: %w", i, err)
			return q
		}
		agg.Args = append(agg.Args, v)
	}
	q.spec.Aggregation = agg
	return q
}

// Snapshot validates the query and returns a copy that is independent of
// later modifications of the builder
func (q *Query) Snapshot() (QuerySpec, error) {
	if q == nil || q.spec.Namespace == "" {
		return QuerySpec{}, NewError(ResultParameterError, "query() expects atleast 1 parameter")
	}
	if q.err != nil {
		return QuerySpec{}, NewError(ResultParameterError, q.err.Error())
	}
	spec := q.spec
	spec.Bins = append([]string(nil), q.spec.Bins...)
	if q.spec.Predicate != nil {
		if err := q.spec.Predicate.Validate(); err != nil {
			return QuerySpec{}, err
		}
		p := *q.spec.Predicate
		spec.Predicate = &p
	}
	if q.spec.Aggregation != nil {
		a := *q.spec.Aggregation
		a.Args = append([]value.Value(nil), q.spec.Aggregation.Args...)
		spec.Aggregation = &a
	}
	return spec, nil
}

// EncodeQuery encodes a query spec for the wire
func EncodeQuery(spec QuerySpec) ([]byte, error) {
	data, err := value.Marshal(spec)
	if err != nil {
		return nil, Errorf(ResultSerializeError, "encode query: %v", err)
	}
	return data, nil
}

// DecodeQuery decodes a query spec from the wire
func DecodeQuery(data []byte) (QuerySpec, error) {
	var spec QuerySpec
	if err := value.Unmarshal(data, &spec); err != nil {
		return QuerySpec{}, Errorf(ResultSerializeError, "decode query: %v", err)
	}
	return spec, nil
}

// --------------------------------------------------------------------------
// Rows
// --------------------------------------------------------------------------

// Reducer tells how the partial aggregation results of several nodes are
// combined into the final result
type Reducer uint8

const (
	// ReduceNone passes the results of every node through unchanged
	ReduceNone Reducer = iota
	// ReduceAdd adds integers, maps of integers are added per key
	ReduceAdd
)

func (r Reducer) String() string {
	switch r {
	case ReduceNone:
		return "none"
	case ReduceAdd:
		return "add"
	default:
		return fmt.Sprintf("Reducer(%d)", uint8(r))
	}
}

// Merge combines two partial results
func (r Reducer) Merge(a, b value.Value) (value.Value, error) {
	if r != ReduceAdd {
		return value.Nil(), Errorf(ResultClientError, "reducer %s cannot merge results", r)
	}
	if ai, ok := a.AsInt(); ok {
		if bi, ok := b.AsInt(); ok {
			return value.Int(ai + bi), nil
		}
	}
	am, aok := a.AsMap()
	bm, bok := b.AsMap()
	if !aok || !bok {
		return value.Nil(), NewAggregationError(DiagExecution,
			fmt.Sprintf("cannot add partial results of type %s and %s", a.Type(), b.Type()))
	}
	merged := make(map[string]value.Value, len(am)+len(bm))
	for k, v := range am {
		merged[k] = v
	}
	for k, v := range bm {
		prev, ok := merged[k]
		if !ok {
			merged[k] = v
			continue
		}
		sum, err := r.Merge(prev, v)
		if err != nil {
			return value.Nil(), err
		}
		merged[k] = sum
	}
	return value.Map(merged), nil
}

// Row is one result of a query. Plain queries yield records, aggregations
// yield the reduced values in Result with a nil Record. Reduce tells the
// client how to combine the results of several nodes.
type Row struct {
	Record *Record
	Result value.Value
	Reduce Reducer
}

// IsAggregate reports whether the row carries an aggregation result
func (r Row) IsAggregate() bool {
	return r.Record == nil
}

type wireRow struct {
	Digest     []byte      `cbor:"1,keyasint,omitempty"`
	Set        string      `cbor:"2,keyasint,omitempty"`
	Bins       value.Bins  `cbor:"3,keyasint,omitempty"`
	Generation uint32      `cbor:"4,keyasint,omitempty"`
	Expiration uint32      `cbor:"5,keyasint,omitempty"`
	Aggregate  bool        `cbor:"6,keyasint,omitempty"`
	Result     value.Value `cbor:"7,keyasint"`
	Reduce     Reducer     `cbor:"8,keyasint,omitempty"`
}

// EncodeRow encodes a query row for the wire
func EncodeRow(row Row) ([]byte, error) {
	var w wireRow
	if row.Record != nil {
		if row.Record.Key != nil {
			d := row.Record.Key.Digest()
			w.Digest = d[:]
			w.Set = row.Record.Key.Set()
		}
		if err := value.ValidateBins(row.Record.Bins); err != nil {
			return nil, NewError(ResultSerializeError, err.Error())
		}
		w.Bins = row.Record.Bins
		w.Generation = row.Record.Generation
		w.Expiration = row.Record.Expiration
	} else {
		if row.Result.Depth() > value.MaxDepth {
			return nil, NewError(ResultSerializeError, value.ErrTooDeep.Error())
		}
		w.Aggregate = true
		w.Result = row.Result
		w.Reduce = row.Reduce
	}
	data, err := value.Marshal(w)
	if err != nil {
		return nil, Errorf(ResultSerializeError, "encode row: %v", err)
	}
	return data, nil
}

// DecodeRow decodes a query row received for a query on namespace
func DecodeRow(namespace string, data []byte) (Row, error) {
	var w wireRow
	if err := value.Unmarshal(data, &w); err != nil {
		return Row{}, Errorf(ResultSerializeError, "decode row: %v", err)
	}
	if w.Aggregate {
		return Row{Result: w.Result, Reduce: w.Reduce}, nil
	}
	var digest Digest
	if len(w.Digest) != DigestSize {
		return Row{}, Errorf(ResultSerializeError, "decode row: invalid digest length %d", len(w.Digest))
	}
	copy(digest[:], w.Digest)
	key, err := NewKeyWithDigest(namespace, w.Set, digest)
	if err != nil {
		return Row{}, err
	}
	bins := w.Bins
	if bins == nil {
		bins = value.Bins{}
	}
	return Row{Record: &Record{Key: key, Bins: bins, Generation: w.Generation, Expiration: w.Expiration}}, nil
}

// QueryFromSpec creates a query builder from a received query spec
func QueryFromSpec(spec QuerySpec) *Query {
	q := &Query{spec: spec}
	q.spec.Bins = append([]string(nil), spec.Bins...)
	return q
}
