package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions lists a user's active device sessions, most recently active
// first. Expired entries are pruned as a side effect of the listing.
func (e *Engine) Sessions(ctx context.Context, campusID, userID string) ([]SessionInfo, error) {
	records, err := e.sessions.List(ctx, campusID, userID)
	if err != nil {
		return nil, e.storeErr(err)
	}

	infos := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, SessionInfo{
			SessionID:      rec.SessionID,
			DeviceType:     rec.DeviceType,
			DeviceLabel:    rec.DeviceLabel,
			OriginAddress:  rec.OriginAddress,
			CreatedAt:      time.Unix(rec.CreatedAt, 0),
			LastActivityAt: time.Unix(rec.LastActivityAt, 0),
		})
	}

	return infos, nil
}

// RevokeSession ends one of the user's sessions, typically from a "manage
// devices" screen. Ownership is enforced: a session belonging to another
// user reads as not found.
func (e *Engine) RevokeSession(ctx context.Context, campusID, userID, sessionID string) error {
	rec, err := e.sessions.Get(ctx, campusID, sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return e.storeErr(err)
	}
	if rec.UserID != userID {
		return ErrSessionNotFound
	}

	removed, err := e.sessions.Revoke(ctx, campusID, sessionID)
	if err != nil {
		return e.storeErr(err)
	}
	if !removed {
		return ErrSessionNotFound
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoke, true, userID, campusID, sessionID, nil, nil)

	return nil
}

// TouchSession records activity on a session, advancing its last-activity
// timestamp and renewing the idle expiry. Touching a session that no longer
// exists is a no-op.
func (e *Engine) TouchSession(ctx context.Context, campusID, sessionID string) error {
	if err := e.sessions.Touch(ctx, campusID, sessionID); err != nil {
		return e.storeErr(err)
	}
	return nil
}
