package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newAuditedEngine(t *testing.T) (*Engine, *memIdentityStore, *ChannelSink) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewChannelSink(64)

	engine, err := NewBuilder().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithIdentityStore(newMemIdentityStore()).
		WithCodeSender(&captureSender{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	store := engine.identities.(*memIdentityStore)
	return engine, store, sink
}

func waitForEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sink.Events():
			if event.EventType == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("no %q event arrived", eventType)
		}
	}
}

func TestAuditTrailRecordsLoginOutcomes(t *testing.T) {
	e, store, sink := newAuditedEngine(t)
	ctx := WithClientIP(context.Background(), "10.1.2.3")

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)

	if _, err := e.Login(ctx, testCampus, "ada@cs.example.edu", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal(err)
	}
	failed := waitForEvent(t, sink, auditEventLogin)
	if failed.Success {
		t.Fatal("first login event must record the failure")
	}
	if failed.Error != "invalid_credentials" || failed.UserID != "u-1" || failed.IP != "10.1.2.3" {
		t.Fatalf("unexpected event %+v", failed)
	}

	if _, err := e.Login(ctx, testCampus, "ada@cs.example.edu", "correct-horse-battery"); err != nil {
		t.Fatal(err)
	}
	succeeded := waitForEvent(t, sink, auditEventLogin)
	if !succeeded.Success || succeeded.SessionID == "" || succeeded.CampusID != testCampus {
		t.Fatalf("unexpected event %+v", succeeded)
	}
}

func TestAuditTrailRecordsAdministrativeActor(t *testing.T) {
	e, store, sink := newAuditedEngine(t)
	ctx := WithActorID(context.Background(), "registrar-7")

	seedIdentity(t, e, store, "u-1", "ada@cs.example.edu", "correct-horse-battery", nil)

	if err := e.LockAccount(ctx, testCampus, "u-1", time.Hour); err != nil {
		t.Fatal(err)
	}
	locked := waitForEvent(t, sink, auditEventAccountLock)
	if locked.ActorID != "registrar-7" || locked.UserID != "u-1" {
		t.Fatalf("unexpected event %+v", locked)
	}
	if locked.Metadata["reason"] != "administrative" {
		t.Fatalf("expected administrative reason, got %+v", locked.Metadata)
	}

	if err := e.UnlockAccount(ctx, testCampus, "u-1"); err != nil {
		t.Fatal(err)
	}
	unlocked := waitForEvent(t, sink, auditEventAccountUnlock)
	if unlocked.ActorID != "registrar-7" {
		t.Fatalf("unexpected event %+v", unlocked)
	}
}
