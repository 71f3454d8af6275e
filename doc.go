// Package authcore is an embeddable authentication engine for multi-campus
// deployments. It issues and validates access/refresh token pairs, tracks
// device sessions in Redis, maintains a revocation denylist, runs the
// one-time-code flows behind OTP login, MFA step-up, and password reset, and
// enforces the failed-login lockout policy.
//
// Callers integrate by implementing [IdentityStore] over their credential
// database and [CodeSender] over their delivery channel, then assembling an
// [Engine] through the [Builder]. The engine is transport-agnostic: it
// returns typed errors and leaves HTTP status mapping to the boundary layer.
package authcore
