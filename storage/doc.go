// Package storage holds helpers shared by the durable core.StorageAdapter
// implementations in its sub-packages:
//
//   - sqlstore: database/sql adapter for sqlite3, postgres and mysql
//   - redisstore: go-redis adapter storing one JSON document per session
//
// Every adapter creates its backing table or keyspace lazily. When an
// operation fails because the store is missing, the adapter wraps the error
// with NotReady and RetryWithCreate calls Create before retrying once.
package storage
