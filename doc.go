// Package authgate provides a credential-gated access controller: a username check,
// password creation or authentication against a [Backend], and a failed-attempt lockout
// that survives restarts of the client.
//
// [Engine] is the single owner of [AuthState]. It derives the lockout from the failure
// counter and timestamp, persists each transition to a session scope and a durable scope
// (see package store), and publishes every transition to subscribers in order.
// [Controller] drives one login attempt at a time against the Engine and the Backend and
// is the only caller that mutates the failure counter.
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Controller], [Builder], [Config]
// and value types. Storage technologies live in package store, the reference credential
// directory in package directory and the REST client in package backend/httpapi.
//
// # What this package must NOT do
//
//   - Send credentials to the Backend while the lockout is active. Reset requests are allowed.
//   - Reset the failure counter on anything but a successful login, an expired lockout, a
//     completed password reset or an explicit reset.
//   - Roll back an in-memory transition because a store write failed.
package authgate
