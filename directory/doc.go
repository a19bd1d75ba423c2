// Package directory is a reference credential backend. [Service] implements
// authgate.Backend over a [Repository]: passwords are stored as Argon2id hashes
// and successful logins receive a signed token from package jwt.
//
// Two repositories are provided: [MemoryRepository] for tests and demos, and
// [SQLRepository] for SQLite (modernc.org/sqlite) or PostgreSQL (pgx).
// [SeedDefaults] loads the demo accounts admin, akanksha, izel, vaidhei and user;
// the last one has no password yet.
package directory
