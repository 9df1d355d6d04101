// Package server implements the RPC server of an rKV development node.
//
// A node keeps the records of all its namespaces in one local store
// (lstore) backed by the memory or the bolt engine. Every namespace is
// served on its own shard id (common.NamespaceShard), the control shard
// (common.ControlShard) answers the session handshake and heartbeats.
//
// Key Components:
//
//   - Server: the node itself. Start initializes the store and listens,
//     Serve additionally blocks until SIGINT/SIGTERM, Close stops the node.
//
//   - IRPCServerAdapter: Interface translating requests into store.IStore
//     calls. NewIStoreServerAdapter handles record, query and index requests.
//     Queries stream one message per row before the final response.
//
//   - Authentication: if a users file is configured (YAML with bcrypt
//     hashes, see LoadUsers and HashPassword) every request needs a session
//     token obtained by a login on the control shard. Sessions expire after
//     being idle for the session TTL.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  NodeName:   "node-1",
//	  Namespaces: []string{"test"},
//	  Engine:     common.EngineMemory,
//	  Transport:  common.DefaultServerTransportConfig("127.0.0.1:3000"),
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Every login and heartbeat response carries the node name and the cluster
// members (node name -> endpoint). Clients use them to discover and route to
// the other nodes. The members are static (ServerConfig.Members or SetMembers).
package server
