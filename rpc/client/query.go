package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Execution state
// --------------------------------------------------------------------------

// QueryState is the state of a single query execution
type QueryState int32

const (
	QueryBuilt QueryState = iota
	QueryExecuting
	QueryStreaming
	QueryDone
	QueryFailed
)

func (s QueryState) String() string {
	switch s {
	case QueryBuilt:
		return "BUILT"
	case QueryExecuting:
		return "EXECUTING"
	case QueryStreaming:
		return "STREAMING"
	case QueryDone:
		return "DONE"
	case QueryFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("QueryState(%d)", int32(s))
	}
}

// legalTransitions lists the states reachable from every state
var legalTransitions = map[QueryState][]QueryState{
	QueryBuilt:     {QueryExecuting},
	QueryExecuting: {QueryStreaming, QueryFailed},
	QueryStreaming: {QueryDone, QueryFailed},
}

// queryExecution is one run of a query over all cluster nodes
type queryExecution struct {
	client *Client
	mu     sync.Mutex
	state  QueryState
}

func newQueryExecution(c *Client) *queryExecution {
	return &queryExecution{client: c, state: QueryBuilt}
}

// transition moves the execution to the next state. An illegal transition
// is a programming error and panics.
func (e *queryExecution) transition(to QueryState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, next := range legalTransitions[e.state] {
		if next == to {
			e.state = to
			return
		}
	}
	panic(fmt.Sprintf("illegal query state transition %s -> %s", e.state, to))
}

func (e *queryExecution) current() QueryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *queryExecution) fail(err error) error {
	e.transition(QueryFailed)
	return err
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// Execute runs the query on every cluster node and passes each row to onRow.
// onRow is never called concurrently. Rows of one node arrive in the order
// the node sent them, there is no order across nodes. An error returned by
// onRow aborts the query and is returned unchanged.
//
// Aggregation results are partial per node. They are combined with the
// reducer of the stream function and passed to onRow once all nodes are
// done, so a count yields a single row for the whole cluster.
//
// The query is snapshotted when the execution starts and may be executed
// again later, every execution is evaluated by the nodes anew.
func (c *Client) Execute(ctx context.Context, query *store.Query, policy *store.Policy, onRow store.RowHandler) error {
	return newQueryExecution(c).run(ctx, query, policy, onRow)
}

// Results executes the query and collects all rows
func (c *Client) Results(ctx context.Context, query *store.Query, policy *store.Policy) ([]store.Row, error) {
	var rows []store.Row
	err := c.Execute(ctx, query, policy, func(row store.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *queryExecution) run(ctx context.Context, query *store.Query, policy *store.Policy, onRow store.RowHandler) error {
	e.transition(QueryExecuting)

	spec, err := query.Snapshot()
	if err != nil {
		return e.fail(err)
	}
	if onRow == nil {
		return e.fail(store.NewError(store.ResultParameterError, "row callback must not be nil"))
	}
	data, err := store.EncodeQuery(spec)
	if err != nil {
		return e.fail(err)
	}
	nodes, err := e.client.cluster.members()
	if err != nil {
		return e.fail(err)
	}

	e.transition(QueryStreaming)

	var rowMu sync.Mutex
	var partials []*store.Row // i-th aggregation result of all nodes
	deliver := func(i int, row store.Row) error {
		rowMu.Lock()
		defer rowMu.Unlock()
		if !row.IsAggregate() || row.Reduce == store.ReduceNone {
			return onRow(row)
		}
		for len(partials) <= i {
			partials = append(partials, nil)
		}
		if partials[i] == nil {
			partials[i] = &row
			return nil
		}
		merged, err := row.Reduce.Merge(partials[i].Result, row.Result)
		if err != nil {
			return err
		}
		partials[i].Result = merged
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		g.Go(func() error {
			next := 0
			return e.client.streamNode(gctx, n, spec.Namespace, data, policy, func(row store.Row) error {
				i := next
				next++
				return deliver(i, row)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return e.fail(err)
	}

	for _, row := range partials {
		if row == nil {
			continue
		}
		if err := onRow(*row); err != nil {
			return e.fail(err)
		}
	}

	e.transition(QueryDone)
	return nil
}

// streamNode runs the query on one node. A failed stream is only retried
// if the node did not deliver a row yet.
func (c *Client) streamNode(ctx context.Context, n *node, namespace string, spec []byte, policy *store.Policy, deliver store.RowHandler) error {
	delivered := false
	return c.execute(ctx, "query", policy, func(ctx context.Context) error {
		req := common.NewQueryRequest(spec)
		req.Timeout = attemptTimeout(ctx)
		_, err := n.request(ctx, common.NamespaceShard(namespace), req, func(part *common.Message) error {
			if part.MsgType != common.MsgTQueryRow {
				return store.Errorf(store.ResultClientError, "unexpected message type %s in query stream", part.MsgType)
			}
			row, err := store.DecodeRow(namespace, part.Value)
			if err != nil {
				return err
			}
			delivered = true
			return deliver(row)
		})
		if err != nil && delivered {
			return stopRetry{err}
		}
		return err
	})
}
