// Package store implements the durable rendezvous store that couples an
// agent process to a human operator console.
//
// Both processes coordinate exclusively through this store: the coordinator
// writes a request and polls for its response; the console loop polls for
// pending requests and writes responses. Neither side ever holds an open
// connection to the other, so either may restart without losing work.
//
// The single concurrency-control primitive is the uniqueness constraint on
// the response table's request_id column: whichever writer inserts first
// binds the response, the loser gets ErrAlreadyExists and must treat it as
// a no-op.
//
// Supported backends:
//   - SQL (sqlite/postgres/mysql via GORM): durable, the default
//   - Memory: for development and testing
//   - Redis: SETNX-based binding for deployments that already run Redis
package store
