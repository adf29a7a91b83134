package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/obs"
)

const defaultResetTTL = time.Hour

// Service orchestrates registration, login, and password recovery on top of
// the Directory, the attempt tracker, and the token issuer.
type Service struct {
	dir     Directory
	tracker AttemptTracker
	tokens  *Tokens

	notifier        Notifier
	now             func() time.Time
	resetTTL        time.Duration
	minPasswordLen  int
	managementRoles map[string]struct{}
	baselineRole    string
	storeTimeout    time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithResetTTL configures reset ticket lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithPasswordMinLength configures the password policy's minimum length.
func WithPasswordMinLength(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.minPasswordLen = n
		}
		return nil
	}
}

// WithManagementRoles names the roles that require a department reference at
// registration.
func WithManagementRoles(names []string) ServiceOption {
	return func(s *Service) error {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n != "" {
				set[strings.ToLower(n)] = struct{}{}
			}
		}
		s.managementRoles = set
		return nil
	}
}

// WithNotifier sets the out-of-band reset secret dispatcher.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithStoreTimeout bounds every Directory call made by the service.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// NewService constructs the auth service.
func NewService(dir Directory, tracker AttemptTracker, tokens *Tokens, opts ...ServiceOption) (*Service, error) {
	if dir == nil {
		return nil, errors.New("auth: directory is required")
	}
	if tracker == nil {
		return nil, errors.New("auth: attempt tracker is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		dir:             dir,
		tracker:         tracker,
		tokens:          tokens,
		now:             time.Now,
		resetTTL:        defaultResetTTL,
		minPasswordLen:  8,
		managementRoles: map[string]struct{}{strings.ToLower(RoleAdmin): {}, strings.ToLower(RoleManager): {}},
		baselineRole:    RoleUser,
		storeTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// EnsureBuiltins ensures the builtin roles and permission catalog exist.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.dir.Roles(ctx).Ensure(ctx, BuiltinRoles); err != nil {
		return storeErr("ensure roles", err)
	}
	if err := s.dir.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		return storeErr("ensure permissions", err)
	}
	return nil
}

// RegistrationInput is the payload for Register.
type RegistrationInput struct {
	FirstName    string
	LastName     string
	Email        string
	Password     string
	DepartmentID string
	RoleIDs      []string
}

// Register validates the input, then atomically creates the user, one role
// assignment per resolved role (the baseline role when none are requested),
// and the audit record. Registration never issues a token.
func (s *Service) Register(ctx context.Context, in RegistrationInput) (PublicUser, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return PublicUser{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return PublicUser{}, err
	}
	if err := ValidatePasswordStrength(in.Password, s.minPasswordLen); err != nil {
		return PublicUser{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	roles, err := s.resolveRoles(ctx, in.RoleIDs)
	if err != nil {
		return PublicUser{}, err
	}

	departmentID := strings.TrimSpace(in.DepartmentID)
	if s.requiresDepartment(roles) && departmentID == "" {
		return PublicUser{}, fmt.Errorf("%w: a department is required for management roles", ErrInvalidInput)
	}
	if departmentID != "" {
		if _, err := s.dir.Departments(ctx).Find(ctx, departmentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return PublicUser{}, fmt.Errorf("%w: department %s", ErrNotFound, departmentID)
			}
			return PublicUser{}, storeErr("find department", err)
		}
	}

	if _, err := s.dir.Users(ctx).FindByEmail(ctx, email); err == nil {
		return PublicUser{}, fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return PublicUser{}, storeErr("find user", err)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return PublicUser{}, fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}

	user := &User{
		ID:           ids.New(),
		FirstName:    first,
		LastName:     last,
		Email:        email,
		PasswordHash: hash,
		DepartmentID: departmentID,
	}
	roleIDs := make([]string, 0, len(roles))
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
		roleNames = append(roleNames, r.Name)
	}

	entry := s.auditEntry(user.ID, "auth.register", "user", user.ID, map[string]string{"email": email})
	if err := s.dir.Users(ctx).CreateWithRoles(ctx, user, roleIDs, entry); err != nil {
		return PublicUser{}, storeErr("create user", err)
	}
	return user.Public(roleNames), nil
}

// LoginResult carries the issued token and the public projection of the
// authenticated user.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      PublicUser
}

// Login authenticates credentials and issues a token. A throttled identifier
// never reaches the Directory; unknown-account and wrong-password failures
// are indistinguishable in error kind, message, and (within reason) timing.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	// The timeout covers the tracker too; a Redis round trip is as external
	// as the Directory.
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	blocked, err := s.tracker.Blocked(ctx, email)
	if err != nil {
		return LoginResult{}, storeErr("attempt tracker", err)
	}
	if blocked {
		return LoginResult{}, fmt.Errorf("%w: too many failed attempts", ErrRateLimited)
	}

	user, err := s.dir.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			CompareDummy(password)
			if err := s.tracker.RecordFailure(ctx, email); err != nil {
				return LoginResult{}, storeErr("attempt tracker", err)
			}
			return LoginResult{}, ErrInvalidCredentials
		}
		// A Directory failure is an infrastructure problem, never an
		// authentication verdict.
		return LoginResult{}, storeErr("find user", err)
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if err := s.tracker.RecordFailure(ctx, email); err != nil {
			return LoginResult{}, storeErr("attempt tracker", err)
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.tracker.RecordSuccess(ctx, email); err != nil {
		return LoginResult{}, storeErr("attempt tracker", err)
	}

	roles, err := s.dir.Roles(ctx).RolesForUser(ctx, user.ID)
	if err != nil {
		return LoginResult{}, storeErr("load roles", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Email, names)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: issue token: %v", ErrInternal, err)
	}

	// Tracker state is settled before the audit record is written. A lost
	// audit row must not fail the login, but it must leave a trace.
	if err := s.dir.Audit(ctx).Append(ctx, s.auditEntry(user.ID, "auth.login", "user", user.ID, map[string]string{"email": email})); err != nil {
		obs.LogError("login audit append failed", map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
	}

	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user.Public(names)}, nil
}

// ChangePassword verifies the caller's current password and replaces it.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.dir.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: account not found", ErrUnauthenticated)
		}
		return storeErr("find user", err)
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return fmt.Errorf("%w: current password incorrect", ErrUnauthenticated)
	}
	if err := ValidatePasswordStrength(newPassword, s.minPasswordLen); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}
	entry := s.auditEntry(user.ID, "auth.password.change", "user", user.ID, nil)
	if err := s.dir.Users(ctx).UpdatePassword(ctx, user.ID, hash, entry); err != nil {
		return storeErr("update password", err)
	}
	return nil
}

// RequestPasswordReset creates a reset ticket and hands the plaintext secret
// to the out-of-band dispatcher. It acknowledges unknown emails identically
// to known ones, so the endpoint carries no enumeration signal.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	email = strings.ToLower(strings.TrimSpace(email))
	// Secret generation happens for every request to keep the handled work
	// shape uniform.
	secret, digest, err := NewResetSecret()
	if err != nil {
		return err
	}

	user, err := s.dir.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return storeErr("find user", err)
	}

	ticket := &ResetTicket{
		ID:         ids.New(),
		UserID:     user.ID,
		SecretHash: digest,
		ExpiresAt:  s.now().Add(s.resetTTL),
	}
	if err := s.dir.Tickets(ctx).Replace(ctx, ticket); err != nil {
		return storeErr("store reset ticket", err)
	}

	if s.notifier != nil {
		if err := s.notifier.DeliverResetSecret(ctx, email, secret); err != nil {
			// Delivery failure must not disclose account existence; the user
			// can simply request again.
			obs.LogError("reset secret delivery failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	return nil
}

// ConfirmPasswordReset redeems a reset secret: the ticket is matched,
// checked for expiry, and consumed together with the password update in one
// transaction, so a crash can never leave one side applied.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, secret, newPassword string) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.dir.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no active reset request", ErrInvalidInput)
		}
		return storeErr("find user", err)
	}

	ticket, err := s.dir.Tickets(ctx).Current(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no active reset request", ErrInvalidInput)
		}
		return storeErr("load reset ticket", err)
	}
	if ticket.Consumed {
		return fmt.Errorf("%w: no active reset request", ErrInvalidInput)
	}
	if !VerifyResetSecret(ticket.SecretHash, secret) {
		return fmt.Errorf("%w: invalid reset secret", ErrUnauthenticated)
	}
	if !s.now().Before(ticket.ExpiresAt) {
		return fmt.Errorf("%w: reset ticket expired", ErrInvalidInput)
	}
	if err := ValidatePasswordStrength(newPassword, s.minPasswordLen); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}

	entry := s.auditEntry(user.ID, "auth.password.reset", "user", user.ID, nil)
	if err := s.dir.Tickets(ctx).ConsumeAndSetPassword(ctx, ticket.ID, user.ID, hash, entry); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the race to a concurrent redemption.
			return fmt.Errorf("%w: no active reset request", ErrInvalidInput)
		}
		return storeErr("consume reset ticket", err)
	}
	return nil
}

// Principal loads a user with roles and permissions resolved fresh from the
// Directory.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.dir.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, err
		}
		return Principal{}, storeErr("find user", err)
	}
	roles, err := s.dir.Roles(ctx).RolesForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, storeErr("load roles", err)
	}
	perms, err := s.dir.Permissions(ctx).PermissionsForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, storeErr("load permissions", err)
	}
	return NewPrincipal(user, roles, perms), nil
}

// Require resolves the principal and ensures it holds the permission.
func (s *Service) Require(ctx context.Context, userID, perm string) (Principal, error) {
	principal, err := s.Principal(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	if !principal.HasPermission(perm) {
		return Principal{}, fmt.Errorf("%w: missing permission %s", ErrForbidden, perm)
	}
	return principal, nil
}

func (s *Service) resolveRoles(ctx context.Context, roleIDs []string) ([]Role, error) {
	wanted := dedupeStrings(roleIDs)
	if len(wanted) == 0 {
		baseline, err := s.dir.Roles(ctx).FindByName(ctx, s.baselineRole)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: baseline role %s", ErrNotFound, s.baselineRole)
			}
			return nil, storeErr("find baseline role", err)
		}
		return []Role{*baseline}, nil
	}
	roles := make([]Role, 0, len(wanted))
	for _, id := range wanted {
		role, err := s.dir.Roles(ctx).Find(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: role %s", ErrNotFound, id)
			}
			return nil, storeErr("find role", err)
		}
		roles = append(roles, *role)
	}
	return roles, nil
}

func (s *Service) requiresDepartment(roles []Role) bool {
	for _, r := range roles {
		if _, ok := s.managementRoles[strings.ToLower(r.Name)]; ok {
			return true
		}
	}
	return false
}

func (s *Service) auditEntry(actorID, action, resourceType, resourceID string, metadata map[string]string) *AuditEntry {
	return &AuditEntry{
		ID:           ids.New(),
		OccurredAt:   s.now().UTC(),
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}

func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInternal):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
	}
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
