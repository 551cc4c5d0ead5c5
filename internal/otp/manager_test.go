package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/visioncare/telehealth/internal/identity"
	"github.com/visioncare/telehealth/internal/logging"
	"github.com/visioncare/telehealth/internal/notification"
)

type captureSender struct {
	mu    sync.Mutex
	codes []string
}

func (s *captureSender) Send(_ context.Context, _, code string) (notification.DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	return notification.DeliveryResult{Channel: "test", Delivered: true}, nil
}

func (s *captureSender) last(t *testing.T) string {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.codes) > 0
	}, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[len(s.codes)-1]
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) (notification.DeliveryResult, error) {
	return notification.DeliveryResult{Channel: "test"}, errors.New("provider down")
}

type blockingSender struct {
	release chan struct{}
}

func (s blockingSender) Send(ctx context.Context, _, _ string) (notification.DeliveryResult, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return notification.DeliveryResult{Channel: "test", Delivered: true}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	mgr    *Manager
	sender *captureSender
	clock  *fakeClock
	ident  identity.Identity
}

func storesUnderTest(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func newFixture(t *testing.T, store Store, sender notification.Sender, cfg Config) fixture {
	t.Helper()
	ids := identity.NewService(identity.NewMemoryRepository(), bcrypt.MinCost)
	ident, err := ids.Create(context.Background(), identity.NewIdentity{
		Email: "pat@example.com", Phone: "+1555", Password: "password", Role: identity.RolePatient,
	})
	require.NoError(t, err)

	clk := &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	capture, _ := sender.(*captureSender)
	mgr := NewManager(ids, store, sender, cfg, logging.Discard(), WithClock(clk.Now))
	return fixture{mgr: mgr, sender: capture, clock: clk, ident: ident}
}

func TestIssueAndVerifyIsSingleUse(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store, &captureSender{}, Config{})
			ctx := context.Background()

			issued, err := f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			assert.Equal(t, f.ident.ID, issued.IdentityID)
			assert.Equal(t, f.clock.Now().Add(3*time.Minute), issued.ExpiresAt)
			assert.Nil(t, issued.Warning)

			code := f.sender.last(t)
			assert.True(t, WellFormed(code))

			got, err := f.mgr.Verify(ctx, "+1555", code)
			require.NoError(t, err)
			assert.Equal(t, f.ident.ID, got.ID)

			_, err = f.mgr.Verify(ctx, "+1555", code)
			assert.ErrorIs(t, err, ErrChallengeExpired)
		})
	}
}

func TestExpiryBoundary(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			f := newFixture(t, store, &captureSender{}, Config{})
			_, err := f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			code := f.sender.last(t)

			f.clock.Advance(180 * time.Second)
			_, err = f.mgr.Verify(ctx, "+1555", code)
			require.NoError(t, err, "a code is still valid exactly at its expiry")

			_, err = f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			code = f.sender.last(t)

			f.clock.Advance(181 * time.Second)
			_, err = f.mgr.Verify(ctx, "+1555", code)
			assert.ErrorIs(t, err, ErrChallengeExpired)
		})
	}
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store, &captureSender{}, Config{})
			ctx := context.Background()

			_, err := f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			first := f.sender.last(t)

			_, err = f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			second := f.sender.last(t)

			if first != second {
				_, err = f.mgr.Verify(ctx, "+1555", first)
				assert.ErrorIs(t, err, ErrChallengeMismatch)
			}
			_, err = f.mgr.Verify(ctx, "+1555", second)
			assert.NoError(t, err)
		})
	}
}

func TestMismatchesBurnChallenge(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store, &captureSender{}, Config{MaxAttempts: 3})
			ctx := context.Background()

			_, err := f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			code := f.sender.last(t)
			wrong := "000000"
			if code == wrong {
				wrong = "111111"
			}

			_, err = f.mgr.Verify(ctx, "+1555", wrong)
			assert.ErrorIs(t, err, ErrChallengeMismatch)
			_, err = f.mgr.Verify(ctx, "+1555", wrong)
			assert.ErrorIs(t, err, ErrChallengeMismatch)
			_, err = f.mgr.Verify(ctx, "+1555", wrong)
			assert.ErrorIs(t, err, ErrChallengeMismatch)

			_, err = f.mgr.Verify(ctx, "+1555", code)
			assert.ErrorIs(t, err, ErrChallengeExpired)
		})
	}
}

func TestMalformedCodesLeaveChallengeUntouched(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store, &captureSender{}, Config{MaxAttempts: 2})
			ctx := context.Background()

			_, err := f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			code := f.sender.last(t)

			for _, bad := range []string{"+12345", "-12345", "1234.5", "12345", "1234567", ""} {
				_, err = f.mgr.Verify(ctx, "+1555", bad)
				assert.ErrorIs(t, err, ErrMalformedCode, bad)
			}

			ident, err := f.mgr.Verify(ctx, "+1555", code)
			require.NoError(t, err)
			assert.NotEmpty(t, ident.ID)
		})
	}
}

func TestUnknownPhone(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), &captureSender{}, Config{})
	ctx := context.Background()

	_, err := f.mgr.Issue(ctx, "+1999")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	_, err = f.mgr.Verify(ctx, "+1999", "123456")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), &captureSender{}, Config{})

	_, err := f.mgr.Verify(context.Background(), "+1555", "123456")
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestDeliveryFailureIsAWarning(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), failingSender{}, Config{DeliveryWait: time.Second})

	issued, err := f.mgr.Issue(context.Background(), "+1555")
	require.NoError(t, err)
	require.NotNil(t, issued.Warning)
	assert.ErrorContains(t, issued.Warning, "provider down")
}

func TestSlowDeliveryDoesNotBlockIssue(t *testing.T) {
	sender := blockingSender{release: make(chan struct{})}
	defer close(sender.release)
	f := newFixture(t, NewMemoryStore(), sender, Config{DeliveryWait: 20 * time.Millisecond})

	start := time.Now()
	issued, err := f.mgr.Issue(context.Background(), "+1555")
	require.NoError(t, err)
	assert.Nil(t, issued.Warning)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestConcurrentVerifySucceedsOnce(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store, &captureSender{}, Config{})
			ctx := context.Background()

			_, err := f.mgr.Issue(ctx, "+1555")
			require.NoError(t, err)
			code := f.sender.last(t)

			var (
				wg        sync.WaitGroup
				successes atomic.Int32
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := f.mgr.Verify(ctx, "+1555", code); err == nil {
						successes.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), successes.Load())
		})
	}
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.True(t, WellFormed(code), code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 150)
	assert.False(t, WellFormed("12345"))
	assert.False(t, WellFormed("12345a"))
}
