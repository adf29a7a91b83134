package auth

import "context"

// Directory describes the persistence operations required by the auth
// subsystem. Multi-step mutations (registration, reset confirmation) are
// atomic inside the store methods that perform them.
type Directory interface {
	Users(ctx context.Context) UserStore
	Departments(ctx context.Context) DepartmentStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Tickets(ctx context.Context) TicketStore
	Audit(ctx context.Context) AuditStore
}

// UserStore manages user accounts.
type UserStore interface {
	// CreateWithRoles creates the user, one role assignment per role id, and
	// the audit record in a single transaction. Fails with ErrConflict on a
	// duplicate email and ErrNotFound on a missing role or department.
	CreateWithRoles(ctx context.Context, u *User, roleIDs []string, audit *AuditEntry) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// UpdatePassword persists the new hash and the audit record atomically.
	UpdatePassword(ctx context.Context, userID, passwordHash string, audit *AuditEntry) error
}

// DepartmentStore manages organizational units.
type DepartmentStore interface {
	Create(ctx context.Context, d *Department) error
	Find(ctx context.Context, id string) (*Department, error)
	List(ctx context.Context) ([]Department, error)
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	Ensure(ctx context.Context, roles []Role) error
	Assign(ctx context.Context, a RoleAssignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	SetForRole(ctx context.Context, roleID string, keys []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

// TicketStore manages reset ticket lifecycle.
type TicketStore interface {
	// Replace invalidates the user's outstanding tickets and stores t in one
	// transaction, so at most one ticket per user is ever redeemable.
	Replace(ctx context.Context, t *ResetTicket) error
	// Current returns the user's newest unconsumed ticket, expired or not.
	Current(ctx context.Context, userID string) (*ResetTicket, error)
	// ConsumeAndSetPassword marks the ticket consumed, persists the new
	// password hash, and appends the audit record in a single transaction.
	ConsumeAndSetPassword(ctx context.Context, ticketID, userID, passwordHash string, audit *AuditEntry) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// Notifier delivers reset secrets out of band. The production dispatcher is
// external to this system.
type Notifier interface {
	DeliverResetSecret(ctx context.Context, email, secret string) error
}
