package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vexekhach/internal/metrics"
	"vexekhach/internal/models"
	"vexekhach/internal/store"
	"vexekhach/internal/store/memstore"
	"vexekhach/internal/utils"
	"vexekhach/internal/validators"
)

const goodPassword = "Abcd123!"

type fakeNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
	block  bool
}

func (n *fakeNotifier) SendVerification(ctx context.Context, to, token string) error {
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = map[string]string{}
	}
	n.tokens[to] = token
	return n.err
}

func (n *fakeNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	store    *memstore.Store
	notifier *fakeNotifier
	clock    *clock
	issuer   *utils.Issuer
	logs     *test.Hook
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		notifier: &fakeNotifier{},
		clock:    &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		metrics:  metrics.New(),
	}
	f.issuer = utils.NewIssuer("test-secret", time.Hour).WithClock(f.clock.Now)
	log, hook := test.NewNullLogger()
	f.logs = hook
	f.svc = NewService(f.store.Users(), f.notifier, f.issuer, log, Options{
		EmailTimeout: 200 * time.Millisecond,
		Metrics:      f.metrics,
		Now:          f.clock.Now,
	})
	return f
}

func (f *fixture) register(t *testing.T, username, email string) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: goodPassword})
	require.NoError(t, err)
	f.svc.Wait()
	return u
}

func TestRegister(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	u := f.register(t, "alice", "a@x.com")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.False(t, u.IsEmailVerified)
	assert.Nil(t, u.EmailVerifiedAt)
	assert.Equal(t, f.clock.Now(), u.CreatedAt)

	require.NotNil(t, u.VerificationToken)
	require.NotNil(t, u.VerificationTokenExpires)
	assert.Len(t, *u.VerificationToken, 43)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *u.VerificationTokenExpires)
	assert.Equal(t, *u.VerificationToken, f.notifier.token("a@x.com"))

	assert.NotEqual(t, goodPassword, u.HashedPassword)
	assert.True(t, utils.CheckPassword(goodPassword, u.HashedPassword))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmailSends.WithLabelValues(metrics.OutcomeOK)))
}

func TestRegisterTokensAreUnique(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "alice", "a@x.com")
	b := f.register(t, "bob", "b@x.com")
	assert.NotEqual(t, *a.VerificationToken, *b.VerificationToken)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		in   RegisterInput
		kind error
	}{
		{"short username", RegisterInput{"ab", "a@x.com", goodPassword}, validators.ErrInvalidUsername},
		{"username digit first", RegisterInput{"1alice", "a@x.com", goodPassword}, validators.ErrInvalidUsername},
		{"username checked before password", RegisterInput{"a!", "a@x.com", "weak"}, validators.ErrInvalidUsername},
		{"weak password", RegisterInput{"alice", "a@x.com", "abcd123!"}, validators.ErrWeakPassword},
		{"bad email", RegisterInput{"alice", "not-an-email", goodPassword}, validators.ErrInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Reason)
			assert.ErrorIs(t, err, tc.kind)
		})
	}
	assert.Empty(t, f.notifier.tokens)
}

func TestRegisterPasswordTooLong(t *testing.T) {
	f := newFixture(t)
	long := goodPassword
	for len(long) <= 72 {
		long += "aB1!"
	}
	_, err := f.svc.Register(context.Background(), RegisterInput{"alice", "a@x.com", long})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, validators.ErrWeakPassword)

	// Validation runs before the uniqueness lookup.
	f.register(t, "bob", "b@x.com")
	_, err = f.svc.Register(context.Background(), RegisterInput{"carol", "b@x.com", long})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "at most 72 bytes")
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterIdentityIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	u := f.register(t, "Alice", "A@x.com")
	assert.Equal(t, "Alice", u.Username)

	_, err := f.svc.Login(context.Background(), "A@X.COM", goodPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicates(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")
	f.register(t, "bob", "b@x.com")

	cases := []struct {
		name     string
		username string
		email    string
		want     error
	}{
		{"same email", "carol", "a@x.com", ErrDuplicateEmail},
		{"same username", "alice", "c@x.com", ErrDuplicateUsername},
		{"both match one record", "alice", "a@x.com", ErrDuplicateEmail},
		{"email wins across records", "alice", "b@x.com", ErrDuplicateEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), RegisterInput{tc.username, tc.email, goodPassword})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

// racingUsers hides existing users from the pre-check, as a concurrent
// insert would.
type racingUsers struct {
	store.UserRepository
}

func (racingUsers) FindByUsernameOrEmail(context.Context, string, string) ([]models.User, error) {
	return nil, nil
}

func TestRegisterStoreDuplicateMapsToDuplicateAccount(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	log, _ := test.NewNullLogger()
	svc := NewService(racingUsers{f.store.Users()}, f.notifier, f.issuer, log, Options{Now: f.clock.Now})
	_, err := svc.Register(context.Background(), RegisterInput{"alice", "a@x.com", goodPassword})
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestRegisterSucceedsWhenEmailFails(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")

	u := f.register(t, "alice", "a@x.com")
	assert.NotEmpty(t, u.ID)

	entry := f.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "a@x.com", entry.Data["email"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EmailSends.WithLabelValues(metrics.OutcomeFailed)))
}

func TestRegisterDoesNotWaitForSlowEmail(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	f.notifier.block = true

	_, err := f.svc.Register(context.Background(), RegisterInput{"alice", "a@x.com", goodPassword})
	require.NoError(t, err)
	for _, e := range f.logs.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level, "send finished before Register returned")
	}

	f.svc.Wait()

	entry := f.logs.LastEntry()
	require.NotNil(t, entry)
	assert.ErrorIs(t, entry.Data["error"].(error), context.DeadlineExceeded)
}

func TestRegisterEmailOutlivesRequestContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.svc.Register(ctx, RegisterInput{"alice", "a@x.com", goodPassword})
	cancel()
	require.NoError(t, err)
	f.svc.Wait()

	assert.NotEmpty(t, f.notifier.token("a@x.com"))
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")
	tok := f.notifier.token("a@x.com")

	f.clock.Advance(time.Hour)
	u, err := f.svc.VerifyEmail(context.Background(), tok)
	require.NoError(t, err)
	assert.True(t, u.IsEmailVerified)
	assert.Nil(t, u.VerificationToken)
	assert.Nil(t, u.VerificationTokenExpires)
	require.NotNil(t, u.EmailVerifiedAt)
	assert.Equal(t, f.clock.Now(), *u.EmailVerifiedAt)

	_, err = f.svc.VerifyEmail(context.Background(), tok)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestVerifyEmailRejects(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")
	tok := f.notifier.token("a@x.com")

	for _, bad := range []string{"", "nope", tok + "x"} {
		_, err := f.svc.VerifyEmail(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredToken, bad)
	}

	f.clock.Advance(24 * time.Hour)
	_, err := f.svc.VerifyEmail(context.Background(), tok)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	u, err := f.store.Users().FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.False(t, u.IsEmailVerified)
}

func TestVerifyEmailConcurrentUseSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")
	tok := f.notifier.token("a@x.com")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyEmail(context.Background(), tok); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")
	_, err := f.svc.VerifyEmail(context.Background(), f.notifier.token("a@x.com"))
	require.NoError(t, err)

	res, err := f.svc.Login(context.Background(), "a@x.com", goodPassword)
	require.NoError(t, err)
	assert.Equal(t, "bearer", res.TokenType)
	assert.Equal(t, u.ID, res.User.ID)
	assert.True(t, res.User.IsEmailVerified)

	sub, err := f.issuer.Validate(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sub)

	f.clock.Advance(61 * time.Minute)
	_, err = f.issuer.Validate(res.AccessToken)
	assert.ErrorIs(t, err, utils.ErrTokenExpired)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	_, err := f.svc.Login(context.Background(), "nobody@x.com", goodPassword)
	unknown := err
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), "a@x.com", "Wrong123!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, unknown.Error(), err.Error())

	_, err = f.svc.Login(context.Background(), "a@x.com", goodPassword)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestLoginMissingHash(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")
	u.HashedPassword = ""
	u.IsEmailVerified = true
	f.store.SetUser(u)

	_, err := f.svc.Login(context.Background(), "a@x.com", goodPassword)
	assert.ErrorIs(t, err, ErrAccountData)
	require.NotNil(t, f.logs.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, f.logs.LastEntry().Level)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")

	got, err := f.svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = f.svc.Profile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{"alice", "a@x.com", goodPassword})
	require.NoError(t, err)
	f.svc.Wait()

	_, err = f.svc.Login(ctx, "a@x.com", goodPassword)
	require.ErrorIs(t, err, ErrEmailNotVerified)

	_, err = f.svc.VerifyEmail(ctx, f.notifier.token("a@x.com"))
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "a@x.com", goodPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccountEvents.WithLabelValues("login", metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccountEvents.WithLabelValues("login", metrics.OutcomeOK)))
}
