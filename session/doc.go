// Package session implements the session merge rule and a volatile
// core.StorageAdapter. Durable adapters live under the storage package;
// only the wiring layer decides which one to instantiate.
package session
