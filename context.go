package authcore

import "context"

type contextKey uint8

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyDeviceInfo
	ctxKeyActorID
)

// DeviceInfo describes the device a session is being established from. Both
// fields are caller-supplied labels and end up on the session record.
type DeviceInfo struct {
	Type  string
	Label string
}

// WithClientIP attaches the caller's IP address to the context. It flows into
// session records and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithDeviceInfo attaches device metadata to the context for session creation.
func WithDeviceInfo(ctx context.Context, info DeviceInfo) context.Context {
	return context.WithValue(ctx, ctxKeyDeviceInfo, info)
}

// WithActorID attaches the administrative actor performing an operation on
// another user's account. Audit events record it as actor_id.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ctxKeyActorID, actorID)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

func deviceInfo(ctx context.Context) DeviceInfo {
	info, _ := ctx.Value(ctxKeyDeviceInfo).(DeviceInfo)
	return info
}

func actorID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyActorID).(string)
	return id
}
