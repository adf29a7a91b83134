package auth_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/store/memory"
)

type capturingNotifier struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newCapturingNotifier() *capturingNotifier {
	return &capturingNotifier{secrets: make(map[string]string)}
}

func (n *capturingNotifier) DeliverResetSecret(_ context.Context, email, secret string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.secrets[email] = secret
	return nil
}

func (n *capturingNotifier) secretFor(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.secrets[email]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc      *auth.Service
	admin    *auth.Admin
	store    *memory.Store
	notifier *capturingNotifier
	clock    *testClock
}

func newTestEnv(t *testing.T, opts ...auth.ServiceOption) *testEnv {
	t.Helper()

	store := memory.New()
	clock := newTestClock()
	notifier := newCapturingNotifier()
	tracker := auth.NewMemoryTracker(auth.DefaultMaxAttempts, auth.DefaultAttemptWindow,
		auth.WithTrackerClock(clock.Now))
	tokens, err := auth.NewTokens("test-secret", auth.WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	base := []auth.ServiceOption{
		auth.WithClock(clock.Now),
		auth.WithNotifier(notifier),
	}
	svc, err := auth.NewService(store, tracker, tokens, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	admin, err := auth.NewAdmin(store)
	if err != nil {
		t.Fatalf("NewAdmin: %v", err)
	}
	return &testEnv{svc: svc, admin: admin, store: store, notifier: notifier, clock: clock}
}

func (e *testEnv) register(t *testing.T, email, password string) auth.PublicUser {
	t.Helper()
	user, err := e.svc.Register(context.Background(), auth.RegistrationInput{
		FirstName: "Alice",
		LastName:  "Moore",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return user
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.register(t, "alice@example.com", "Abcdef12")
	if user.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %s", user.Email)
	}
	if len(user.Roles) != 1 || user.Roles[0] != auth.RoleUser {
		t.Fatalf("expected baseline role, got %v", user.Roles)
	}

	result, err := env.svc.Login(ctx, "Alice@Example.com", "Abcdef12")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected a token")
	}
	if result.User.ID != user.ID {
		t.Fatalf("unexpected user: %+v", result.User)
	}

	var sawRegister, sawLogin bool
	for _, entry := range env.store.AuditEntries() {
		switch entry.Action {
		case "auth.register":
			sawRegister = true
		case "auth.login":
			sawLogin = true
		}
	}
	if !sawRegister || !sawLogin {
		t.Fatalf("expected register and login audit entries")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Abcdef12")

	_, err := env.svc.Register(context.Background(), auth.RegistrationInput{
		FirstName: "Another",
		LastName:  "Person",
		Email:     "ALICE@example.com",
		Password:  "Abcdef12",
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   auth.RegistrationInput
		want error
	}{
		{
			"missing names",
			auth.RegistrationInput{Email: "a@example.com", Password: "Abcdef12"},
			auth.ErrInvalidInput,
		},
		{
			"bad email",
			auth.RegistrationInput{FirstName: "A", LastName: "B", Email: "not-an-email", Password: "Abcdef12"},
			auth.ErrInvalidInput,
		},
		{
			"weak password",
			auth.RegistrationInput{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "abcdefgh"},
			auth.ErrInvalidInput,
		},
		{
			"unknown role",
			auth.RegistrationInput{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "Abcdef12", RoleIDs: []string{"nope"}},
			auth.ErrNotFound,
		},
		{
			"unknown department",
			auth.RegistrationInput{FirstName: "A", LastName: "B", Email: "a@example.com", Password: "Abcdef12", DepartmentID: "nope"},
			auth.ErrNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.Register(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRegisterManagementRoleRequiresDepartment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	manager, err := env.store.Roles(ctx).FindByName(ctx, auth.RoleManager)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}

	_, err = env.svc.Register(ctx, auth.RegistrationInput{
		FirstName: "Mia",
		LastName:  "Chen",
		Email:     "mia@example.com",
		Password:  "Abcdef12",
		RoleIDs:   []string{manager.ID},
	})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without department, got %v", err)
	}

	dep, err := env.admin.CreateDepartment(ctx, "Operations", "")
	if err != nil {
		t.Fatalf("CreateDepartment: %v", err)
	}
	user, err := env.svc.Register(ctx, auth.RegistrationInput{
		FirstName:    "Mia",
		LastName:     "Chen",
		Email:        "mia@example.com",
		Password:     "Abcdef12",
		DepartmentID: dep.ID,
		RoleIDs:      []string{manager.ID},
	})
	if err != nil {
		t.Fatalf("Register with department: %v", err)
	}
	if user.DepartmentID != dep.ID {
		t.Fatalf("department not recorded: %+v", user)
	}
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "Abcdef12")

	_, unknownErr := env.svc.Login(ctx, "nobody@example.com", "Abcdef12")
	_, wrongErr := env.svc.Login(ctx, "alice@example.com", "WrongPass1")

	if !errors.Is(unknownErr, auth.ErrUnauthenticated) || !errors.Is(wrongErr, auth.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for both, got %v and %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("unknown-account and wrong-password messages differ: %q vs %q", unknownErr, wrongErr)
	}
}

func TestLoginThrottleAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "Abcdef12")

	for i := 0; i < auth.DefaultMaxAttempts; i++ {
		if _, err := env.svc.Login(ctx, "alice@example.com", "WrongPass1"); !errors.Is(err, auth.ErrUnauthenticated) {
			t.Fatalf("attempt %d: expected unauthenticated, got %v", i+1, err)
		}
	}

	// Correct credentials are refused while the identifier is throttled.
	if _, err := env.svc.Login(ctx, "alice@example.com", "Abcdef12"); !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Once the window elapses the correct password succeeds again.
	env.clock.Advance(auth.DefaultAttemptWindow)
	if _, err := env.svc.Login(ctx, "alice@example.com", "Abcdef12"); err != nil {
		t.Fatalf("expected login after window, got %v", err)
	}
}

func TestLoginThrottleCoversUnknownAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < auth.DefaultMaxAttempts; i++ {
		if _, err := env.svc.Login(ctx, "ghost@example.com", "WrongPass1"); !errors.Is(err, auth.ErrUnauthenticated) {
			t.Fatalf("attempt %d: expected unauthenticated, got %v", i+1, err)
		}
	}
	if _, err := env.svc.Login(ctx, "ghost@example.com", "WrongPass1"); !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for unknown account, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "alice@example.com", "Abcdef12")

	if err := env.svc.ChangePassword(ctx, user.ID, "WrongPass1", "NewSecret1"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for wrong current password, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, user.ID, "Abcdef12", "weak"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input for weak new password, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, user.ID, "Abcdef12", "NewSecret1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := env.svc.Login(ctx, "alice@example.com", "Abcdef12"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "NewSecret1"); err != nil {
		t.Fatalf("new password should work, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "Abcdef12")

	if err := env.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := env.notifier.secretFor("alice@example.com")
	if secret == "" {
		t.Fatalf("expected delivered secret")
	}

	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", secret, "NewSecret1"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "NewSecret1"); err != nil {
		t.Fatalf("login with reset password: %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "Abcdef12"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("old password should be rejected after reset, got %v", err)
	}

	// The ticket is single-use: replaying the same secret fails.
	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", secret, "Another1x"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input on replay, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected silent acknowledgement, got %v", err)
	}
	if got := env.notifier.secretFor("ghost@example.com"); got != "" {
		t.Fatalf("no secret must be delivered for unknown accounts")
	}
}

func TestPasswordResetTamperedSecret(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "Abcdef12")

	if err := env.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := env.notifier.secretFor("alice@example.com")

	err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", secret+"x", "NewSecret1")
	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for tampered secret, got %v", err)
	}

	// The untouched ticket still works afterwards.
	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", secret, "NewSecret1"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
}

func TestPasswordResetExpires(t *testing.T) {
	env := newTestEnv(t, auth.WithResetTTL(time.Hour))
	ctx := context.Background()
	env.register(t, "alice@example.com", "Abcdef12")

	if err := env.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := env.notifier.secretFor("alice@example.com")

	// Exactly at the expiry instant the ticket is dead.
	env.clock.Advance(time.Hour)
	err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", secret, "NewSecret1")
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input for expired ticket, got %v", err)
	}
}

func TestPasswordResetSupersedesOutstandingTicket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "Abcdef12")

	if err := env.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	first := env.notifier.secretFor("alice@example.com")
	if err := env.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	second := env.notifier.secretFor("alice@example.com")
	if first == second {
		t.Fatalf("expected a fresh secret per request")
	}

	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", first, "NewSecret1"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("superseded secret must fail, got %v", err)
	}
	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", second, "NewSecret1"); err != nil {
		t.Fatalf("newest secret must work, got %v", err)
	}
}

func TestRequirePermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	adminRole, err := env.store.Roles(ctx).FindByName(ctx, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if err := env.admin.SetRolePermissions(ctx, adminRole.ID, []string{auth.PermissionManageDepartments}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}

	dep, err := env.admin.CreateDepartment(ctx, "Operations", "")
	if err != nil {
		t.Fatalf("CreateDepartment: %v", err)
	}
	boss, err := env.svc.Register(ctx, auth.RegistrationInput{
		FirstName:    "Omar",
		LastName:     "Diaz",
		Email:        "omar@example.com",
		Password:     "Abcdef12",
		DepartmentID: dep.ID,
		RoleIDs:      []string{adminRole.ID},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	staff := env.register(t, "alice@example.com", "Abcdef12")

	if _, err := env.svc.Require(ctx, boss.ID, auth.PermissionManageDepartments); err != nil {
		t.Fatalf("expected permission granted, got %v", err)
	}
	if _, err := env.svc.Require(ctx, staff.ID, auth.PermissionManageDepartments); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Require(ctx, "missing-user", auth.PermissionManageDepartments); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureBuiltinsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}
}

// failingAuditDir serves the Directory normally but rejects every audit
// append.
type failingAuditDir struct {
	auth.Directory
}

func (failingAuditDir) Audit(context.Context) auth.AuditStore { return failingAudit{} }

type failingAudit struct{}

func (failingAudit) Append(context.Context, *auth.AuditEntry) error {
	return errors.New("audit unavailable")
}

func TestLoginLogsAuditAppendFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newTestClock()
	tracker := auth.NewMemoryTracker(auth.DefaultMaxAttempts, auth.DefaultAttemptWindow,
		auth.WithTrackerClock(clock.Now))
	tokens, err := auth.NewTokens("test-secret", auth.WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	svc, err := auth.NewService(failingAuditDir{store}, tracker, tokens, auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	if _, err := svc.Register(ctx, auth.RegistrationInput{
		FirstName: "Alice",
		LastName:  "Moore",
		Email:     "alice@example.com",
		Password:  "Abcdef12",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var buf bytes.Buffer
	obs.Logger().SetOutput(&buf)
	defer obs.Logger().SetOutput(os.Stdout)

	result, err := svc.Login(ctx, "alice@example.com", "Abcdef12")
	if err != nil {
		t.Fatalf("login must survive a lost audit row, got %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected a token")
	}
	if !strings.Contains(buf.String(), "login audit append failed") {
		t.Fatalf("audit append failure left no trace in the log: %q", buf.String())
	}
}

// deadlineTracker records whether Blocked ran under a deadline.
type deadlineTracker struct {
	auth.AttemptTracker
	sawDeadline bool
}

func (d *deadlineTracker) Blocked(ctx context.Context, id string) (bool, error) {
	_, d.sawDeadline = ctx.Deadline()
	return d.AttemptTracker.Blocked(ctx, id)
}

func TestLoginAppliesStoreTimeoutToTracker(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := newTestClock()
	tracker := &deadlineTracker{AttemptTracker: auth.NewMemoryTracker(
		auth.DefaultMaxAttempts, auth.DefaultAttemptWindow, auth.WithTrackerClock(clock.Now))}
	tokens, err := auth.NewTokens("test-secret", auth.WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	svc, err := auth.NewService(store, tracker, tokens,
		auth.WithClock(clock.Now), auth.WithStoreTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	if _, err := svc.Register(ctx, auth.RegistrationInput{
		FirstName: "Alice",
		LastName:  "Moore",
		Email:     "alice@example.com",
		Password:  "Abcdef12",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "Abcdef12"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !tracker.sawDeadline {
		t.Fatalf("throttle check ran without the store timeout applied")
	}
}
