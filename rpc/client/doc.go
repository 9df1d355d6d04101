// Package client implements the rKV cluster driver.
//
// A Client connects to the cluster through one of the seed hosts, learns the
// cluster members from the login handshake and keeps one authenticated
// connection (a set of multiplexed transport connections) per node.
// It implements store.IStore, so code written against the local store works
// unchanged against a cluster.
//
// Key Components:
//
//   - Connection management: every node runs through the states
//     unauthenticated, authenticated and failed. A background heartbeat loop
//     pings all nodes, excludes nodes that missed heartbeats for longer than
//     the grace period from routing, re-dials lost nodes and logs in again
//     when a node no longer knows the session.
//
//   - Operation executor: Get, Exists, Put and Remove are routed to the node
//     owning the partition of the key (sorted node names, partition mod node
//     count). Network faults, unavailable nodes and attempt timeouts are
//     retried with jittered backoff until the retry count or the total
//     timeout of the policy is spent. Every attempt gets its own budget.
//
//   - Query executor: Execute sends a query to all nodes concurrently and
//     delivers the streamed rows serialized to a callback. Results collects
//     them. Aggregations are reduced by each node.
//
//   - Async layer: GetAsync, PutAsync, RemoveAsync and ExistsAsync return a
//     Future and call an optional callback exactly once. The number of async
//     operations in flight is bounded by ClientConfig.AsyncMaxInflight.
//
// Usage Example:
//
//	config := common.DefaultClientConfig("127.0.0.1:3000")
//	config.User, config.Password = "admin", "admin123"
//
//	c := client.NewClient(config, tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
//	if err := c.Connect(ctx); err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	key, _ := store.NewKey("test", "demo", "user-1")
//	bins, _ := value.BinsOf(map[string]any{"name": "ada", "age": 36})
//	if err := c.Put(ctx, key, bins, nil); err != nil {
//	  log.Fatal(err)
//	}
//
//	rec, err := c.Get(ctx, key, nil)
//
// Errors:
//
//	Every error is a *store.Error. Use errors.Is with the sentinels of the
//	store package (store.ErrRecordNotFound, store.ErrTimeout, ...) to
//	classify them. Operations before Connect fail with
//	store.ResultClusterUnavailable, operations after Close with
//	store.ResultConnectionClosed.
package client
