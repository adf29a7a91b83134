package auth

import "time"

// Department is the organizational unit a user may belong to.
type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is a staff account. Email is the sole login identifier and is stored
// lower-cased. PasswordHash never leaves this package.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	DepartmentID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the externally visible projection of a User.
type PublicUser struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	DepartmentID string    `json:"department_id,omitempty"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public returns the projection of u with the given role names attached.
func (u *User) Public(roles []string) PublicUser {
	return PublicUser{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		DepartmentID: u.DepartmentID,
		Roles:        roles,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment gives a user a role. Unique per (user, role) pair.
type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ResetTicket is a single-use password recovery credential. Only the digest
// of the secret is stored; the plaintext goes out of band to the user.
type ResetTicket struct {
	ID         string
	UserID     string
	SecretHash string
	ExpiresAt  time.Time
	Consumed   bool
	CreatedAt  time.Time
}

// AuditEntry is an append-only record of a security-relevant action.
type AuditEntry struct {
	ID           string
	OccurredAt   time.Time
	ActorUserID  string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
}
