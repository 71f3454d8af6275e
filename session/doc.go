// Package session tracks active device sessions in Redis. Each login creates
// a record keyed by campus and a random session identifier, plus a per-user
// set used to enumerate and revoke a user's sessions. Records carry an
// idle-expiry TTL and disappear from Redis on their own when a device goes
// quiet.
package session
