package otpcode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCodeStoreTest(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "login", cfg)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIssueAndVerifyHappyPath(t *testing.T) {
	store, _, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	ctx := context.Background()

	code, err := store.Issue(ctx, "c-1", "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(code) != 6 || code[0] == '0' {
		t.Fatalf("expected 6-digit code without leading zero, got %q", code)
	}

	ok, _, err := store.Verify(ctx, "c-1", "u-1", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected correct code to verify")
	}

	// Consumed: the same code never verifies twice.
	ok, _, err = store.Verify(ctx, "c-1", "u-1", code)
	if err != nil {
		t.Fatalf("replay verify: %v", err)
	}
	if ok {
		t.Fatal("expected consumed code to be rejected")
	}
}

func TestIssueOverwritesPriorCode(t *testing.T) {
	store, _, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	ctx := context.Background()

	first, err := store.Issue(ctx, "c-1", "u-1")
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	second, err := store.Issue(ctx, "c-1", "u-1")
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}
	if first == second {
		t.Skip("collided on identical random codes")
	}

	ok, _, err := store.Verify(ctx, "c-1", "u-1", first)
	if err != nil {
		t.Fatalf("verify stale: %v", err)
	}
	if ok {
		t.Fatal("expected overwritten code to be rejected")
	}
}

func TestVerifyBurnsAttemptsAndDeletesOnExhaustion(t *testing.T) {
	store, _, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	ctx := context.Background()

	code, err := store.Issue(ctx, "c-1", "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	ok, remaining, err := store.Verify(ctx, "c-1", "u-1", wrong)
	if err != nil || ok {
		t.Fatalf("first wrong attempt: ok=%v err=%v", ok, err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %d", remaining)
	}

	ok, remaining, err = store.Verify(ctx, "c-1", "u-1", wrong)
	if err != nil || ok {
		t.Fatalf("second wrong attempt: ok=%v err=%v", ok, err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 attempt remaining, got %d", remaining)
	}

	ok, remaining, err = store.Verify(ctx, "c-1", "u-1", wrong)
	if err != nil || ok {
		t.Fatalf("third wrong attempt: ok=%v err=%v", ok, err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 attempts remaining, got %d", remaining)
	}

	// Exhaustion deleted the record, so even the right code fails now.
	ok, _, err = store.Verify(ctx, "c-1", "u-1", code)
	if err != nil {
		t.Fatalf("verify after exhaustion: %v", err)
	}
	if ok {
		t.Fatal("expected exhausted code to be gone")
	}
}

func TestVerifyMissingCodeIsCleanMiss(t *testing.T) {
	store, _, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()

	ok, remaining, err := store.Verify(context.Background(), "c-1", "u-1", "123456")
	if err != nil {
		t.Fatalf("verify missing: %v", err)
	}
	if ok || remaining != 0 {
		t.Fatalf("expected clean miss, got ok=%v remaining=%d", ok, remaining)
	}
}

func TestVerifyExpiredCodeRejected(t *testing.T) {
	store, mr, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	ctx := context.Background()

	code, err := store.Issue(ctx, "c-1", "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	mr.FastForward(6 * time.Minute)

	ok, _, err := store.Verify(ctx, "c-1", "u-1", code)
	if err != nil {
		t.Fatalf("verify expired: %v", err)
	}
	if ok {
		t.Fatal("expected expired code to be rejected")
	}
}

func TestIssueRateCeiling(t *testing.T) {
	store, mr, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Issue(ctx, "c-1", "u-1"); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	_, err := store.Issue(ctx, "c-1", "u-1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %T", err)
	}
	if rateErr.RetryAfter <= 0 || rateErr.RetryAfter > time.Hour {
		t.Fatalf("expected retry-after within the window, got %s", rateErr.RetryAfter)
	}

	// A different identity is unaffected.
	if _, err := store.Issue(ctx, "c-1", "u-2"); err != nil {
		t.Fatalf("issue other identity: %v", err)
	}

	// The window reopens.
	mr.FastForward(2 * time.Hour)
	if _, err := store.Issue(ctx, "c-1", "u-1"); err != nil {
		t.Fatalf("issue after window: %v", err)
	}
}

func TestIssueCeilingHoldsUnderConcurrency(t *testing.T) {
	store, _, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	ctx := context.Background()

	const callers = 40
	var issued, limited atomic.Int64

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Issue(ctx, "c-1", "u-1")
			switch {
			case err == nil:
				issued.Add(1)
			case errors.Is(err, ErrRateLimited):
				limited.Add(1)
			default:
				t.Errorf("issue: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := issued.Load(); got != 3 {
		t.Fatalf("expected exactly 3 issuances within the ceiling, got %d", got)
	}
	if got := limited.Load(); got != callers-3 {
		t.Fatalf("expected %d rate-limited callers, got %d", callers-3, got)
	}
}

// setFailureHook fails SET commands while armed, leaving INCR and friends
// untouched. Used to exercise the reservation release path.
type setFailureHook struct {
	fail *atomic.Bool
}

func (h setFailureHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h setFailureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.fail.Load() && strings.EqualFold(cmd.Name(), "set") {
			return errors.New("injected write failure")
		}
		return next(ctx, cmd)
	}
}

func (h setFailureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestIssueFailedWriteReleasesSlot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()

	var fail atomic.Bool
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rdb.AddHook(setFailureHook{fail: &fail})
	store := NewStore(rdb, "login", DefaultLoginConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Issue(ctx, "c-1", "u-1"); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	fail.Store(true)
	if _, err := store.Issue(ctx, "c-1", "u-1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable from blocked write, got %v", err)
	}
	fail.Store(false)

	// The failed attempt released its slot, so the last one still fits.
	if _, err := store.Issue(ctx, "c-1", "u-1"); err != nil {
		t.Fatalf("issue after released slot: %v", err)
	}
	if _, err := store.Issue(ctx, "c-1", "u-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit at the ceiling, got %v", err)
	}
}

func TestVerifySurfacesRedisUnavailable(t *testing.T) {
	store, mr, done := newCodeStoreTest(t, DefaultLoginConfig())
	defer done()
	mr.Close()

	if _, _, err := store.Verify(context.Background(), "c-1", "u-1", "123456"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := store.Issue(context.Background(), "c-1", "u-1"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable from issue, got %v", err)
	}
}
