// Package store provides the storage ports used by the authgate engine.
//
// A [Scope] is a flat string key/value space with grouped writes: Set and Remove apply a
// whole batch or nothing, so the engine can keep its session group (token + user) and its
// durable group (failure counter + timestamp + username) consistent across crashes.
//
// Implementations: [Memory] (in-process), [Redis] (go-redis, optional TTL for session
// scope), [SQLite] (modernc.org/sqlite) and [File] (JSON file replaced atomically).
package store
