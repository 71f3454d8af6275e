// Package internal holds helpers shared by authcore packages that must not
// become part of the public API: identifier generation, one-time-code
// generation, and secret hashing.
package internal
