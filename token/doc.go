// Package token signs and verifies the access and refresh bearer tokens used
// by authcore. Tokens are self-contained JWTs: every claim a caller needs is
// embedded at issuance, and nothing is written to storage.
//
// Refresh tokens carry the identity's token-version counter. Bumping that
// counter on the identity record invalidates every refresh token issued
// before the bump, independent of their own expiry.
package token
