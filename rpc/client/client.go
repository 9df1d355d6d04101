package client

import (
	"context"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"golang.org/x/sync/errgroup"
)

// Client is the driver of an rKV cluster. It is safe for concurrent use.
type Client struct {
	config   common.ClientConfig
	defaults *store.Policy
	cluster  *cluster
	async    *asyncRunner
}

var _ store.IStore = (*Client)(nil)

// NewClient creates an unconnected client. Every operation fails with a
// connection error until Connect succeeded.
//
// Usage:
//
//	c := client.NewClient(
//		common.DefaultClientConfig("127.0.0.1:3000"),
//		tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer(),
//	)
//	if err := c.Connect(ctx); err != nil {
//		return err
//	}
//	defer c.Close()
func NewClient(
	config common.ClientConfig,
	transportFactory transport.ClientTransportFactory,
	serializer serializer.IRPCSerializer,
) *Client {
	return &Client{
		config:   config,
		defaults: config.DefaultPolicy(),
		cluster:  newCluster(config, transportFactory, serializer),
		async:    newAsyncRunner(config.AsyncMaxInflight),
	}
}

// Connect connects to the cluster using the configured hosts
func (c *Client) Connect(ctx context.Context) error {
	return c.cluster.connect(ctx)
}

// Nodes returns the status of every known cluster node
func (c *Client) Nodes() []NodeStatus {
	nodes := c.cluster.allNodes()
	status := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		status = append(status, n.status())
	}
	return status
}

// Close fails pending requests with a connection closed error and
// disconnects from all nodes. Closing twice is a no-op.
func (c *Client) Close() error {
	c.async.close()
	c.cluster.close()
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IStore)
// --------------------------------------------------------------------------

func (c *Client) Get(ctx context.Context, key *store.Key, policy *store.Policy) (*store.Record, error) {
	if key == nil {
		return nil, store.NewError(store.ResultParameterError, "key must not be nil")
	}

	var rec *store.Record
	err := c.execute(ctx, "get", policy, func(ctx context.Context) error {
		resp, err := c.sendToOwner(ctx, key, common.NewGetRequest(key))
		if err != nil {
			return err
		}
		bins, err := value.DecodeBins(resp.Value)
		if err != nil {
			return store.Errorf(store.ResultSerializeError, "decode bins: %v", err)
		}
		rec = &store.Record{Key: key, Bins: bins, Generation: resp.Generation, Expiration: resp.Expiration}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) Exists(ctx context.Context, key *store.Key, policy *store.Policy) (bool, error) {
	if key == nil {
		return false, store.NewError(store.ResultParameterError, "key must not be nil")
	}

	exists := false
	err := c.execute(ctx, "exists", policy, func(ctx context.Context) error {
		resp, err := c.sendToOwner(ctx, key, common.NewExistsRequest(key))
		if err != nil {
			return err
		}
		exists = resp.Ok
		return nil
	})
	return exists, err
}

func (c *Client) Put(ctx context.Context, key *store.Key, bins value.Bins, policy *store.Policy) error {
	if key == nil {
		return store.NewError(store.ResultParameterError, "key must not be nil")
	}
	if err := value.ValidateBins(bins); err != nil {
		return store.NewError(store.ResultSerializeError, err.Error())
	}
	data, err := value.EncodeBins(bins)
	if err != nil {
		return store.Errorf(store.ResultSerializeError, "encode bins: %v", err)
	}

	req := common.NewPutRequest(key, data, policy.Resolve(c.defaults))
	return c.execute(ctx, "put", policy, func(ctx context.Context) error {
		_, err := c.sendToOwner(ctx, key, req)
		return err
	})
}

func (c *Client) Remove(ctx context.Context, key *store.Key, policy *store.Policy) error {
	if key == nil {
		return store.NewError(store.ResultParameterError, "key must not be nil")
	}

	req := common.NewRemoveRequest(key, policy.Resolve(c.defaults))
	return c.execute(ctx, "remove", policy, func(ctx context.Context) error {
		_, err := c.sendToOwner(ctx, key, req)
		return err
	})
}

func (c *Client) Query(ctx context.Context, query *store.Query, policy *store.Policy, onRow store.RowHandler) error {
	return c.Execute(ctx, query, policy, onRow)
}

func (c *Client) CreateIndex(ctx context.Context, spec store.IndexSpec, policy *store.Policy) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	data, err := value.Marshal(spec)
	if err != nil {
		return store.Errorf(store.ResultSerializeError, "encode index spec: %v", err)
	}
	return c.broadcast(ctx, "indexCreate", spec.Namespace, policy, common.NewIndexCreateRequest(data))
}

func (c *Client) RemoveIndex(ctx context.Context, namespace, name string, policy *store.Policy) error {
	if namespace == "" || name == "" {
		return store.NewError(store.ResultParameterError, "namespace and index name must not be empty")
	}
	data, err := value.Marshal(store.IndexSpec{Namespace: namespace, Name: name})
	if err != nil {
		return store.Errorf(store.ResultSerializeError, "encode index spec: %v", err)
	}
	return c.broadcast(ctx, "indexRemove", namespace, policy, common.NewIndexRemoveRequest(data))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sendToOwner sends a single record request to the node owning the key
func (c *Client) sendToOwner(ctx context.Context, key *store.Key, req *common.Message) (*common.Message, error) {
	n, err := c.cluster.nodeFor(key)
	if err != nil {
		return nil, err
	}
	msg := *req
	msg.Timeout = attemptTimeout(ctx)
	return n.request(ctx, common.NamespaceShard(key.Namespace()), &msg, nil)
}

// broadcast sends a request to every node. It fails if one node fails.
func (c *Client) broadcast(ctx context.Context, op, namespace string, policy *store.Policy, req *common.Message) error {
	return c.execute(ctx, op, policy, func(ctx context.Context) error {
		nodes, err := c.cluster.members()
		if err != nil {
			return err
		}
		g, ctx := errgroup.WithContext(ctx)
		for _, n := range nodes {
			g.Go(func() error {
				msg := *req
				msg.Timeout = attemptTimeout(ctx)
				_, err := n.request(ctx, common.NamespaceShard(namespace), &msg, nil)
				return err
			})
		}
		return g.Wait()
	})
}
