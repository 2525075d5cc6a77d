// Package redisstore implements core.StorageAdapter on Redis using go-redis.
package redisstore
