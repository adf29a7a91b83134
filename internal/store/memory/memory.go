// Package memory implements the auth Directory in process memory. It backs
// the HTTP tests and DSN-less development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"opsdesk.org/internal/auth"
)

// Store is a concurrency-safe in-memory Directory.
type Store struct {
	mu sync.RWMutex

	users  map[string]*auth.User
	emails map[string]string // lower(email) -> user id

	departments map[string]*auth.Department
	roles       map[string]*auth.Role
	roleNames   map[string]string // lower(name) -> role id

	perms     map[string]*auth.Permission          // key -> permission
	rolePerms map[string]map[string]struct{}       // role id -> permission keys
	assigned  map[string]map[string]auth.RoleAssignment // user id -> role id -> assignment

	tickets map[string]*auth.ResetTicket // user id -> newest ticket
	audit   []auth.AuditEntry
}

// New returns an empty in-memory Directory.
func New() *Store {
	return &Store{
		users:       make(map[string]*auth.User),
		emails:      make(map[string]string),
		departments: make(map[string]*auth.Department),
		roles:       make(map[string]*auth.Role),
		roleNames:   make(map[string]string),
		perms:       make(map[string]*auth.Permission),
		rolePerms:   make(map[string]map[string]struct{}),
		assigned:    make(map[string]map[string]auth.RoleAssignment),
		tickets:     make(map[string]*auth.ResetTicket),
	}
}

var _ auth.Directory = (*Store)(nil)

func (s *Store) Users(context.Context) auth.UserStore             { return usersView{s} }
func (s *Store) Departments(context.Context) auth.DepartmentStore { return departmentsView{s} }
func (s *Store) Roles(context.Context) auth.RoleStore             { return rolesView{s} }
func (s *Store) Permissions(context.Context) auth.PermissionStore { return permsView{s} }
func (s *Store) Tickets(context.Context) auth.TicketStore         { return ticketsView{s} }
func (s *Store) Audit(context.Context) auth.AuditStore            { return auditView{s} }

// AuditEntries returns a copy of the appended audit log (test helper).
func (s *Store) AuditEntries() []auth.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

type usersView struct{ s *Store }

func (v usersView) CreateWithRoles(_ context.Context, u *auth.User, roleIDs []string, audit *auth.AuditEntry) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := s.emails[key]; exists {
		return fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if u.DepartmentID != "" {
		if _, ok := s.departments[u.DepartmentID]; !ok {
			return fmt.Errorf("%w: department %s", auth.ErrNotFound, u.DepartmentID)
		}
	}
	for _, roleID := range roleIDs {
		if _, ok := s.roles[roleID]; !ok {
			return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
		}
	}

	now := time.Now().UTC()
	stored := *u
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.users[u.ID] = &stored
	s.emails[key] = u.ID
	for _, roleID := range roleIDs {
		if s.assigned[u.ID] == nil {
			s.assigned[u.ID] = make(map[string]auth.RoleAssignment)
		}
		s.assigned[u.ID][roleID] = auth.RoleAssignment{UserID: u.ID, RoleID: roleID, CreatedAt: now}
	}
	if audit != nil {
		s.audit = append(s.audit, *audit)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (v usersView) Find(_ context.Context, id string) (*auth.User, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (v usersView) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (v usersView) UpdatePassword(_ context.Context, userID, passwordHash string, audit *auth.AuditEntry) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	if audit != nil {
		s.audit = append(s.audit, *audit)
	}
	return nil
}

type departmentsView struct{ s *Store }

func (v departmentsView) Create(_ context.Context, d *auth.Department) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.departments {
		if strings.EqualFold(existing.Name, d.Name) {
			return fmt.Errorf("%w: department %s", auth.ErrConflict, d.Name)
		}
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	clone := *d
	s.departments[d.ID] = &clone
	return nil
}

func (v departmentsView) Find(_ context.Context, id string) (*auth.Department, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.departments[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (v departmentsView) List(_ context.Context) ([]auth.Department, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Department, 0, len(s.departments))
	for _, d := range s.departments {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type rolesView struct{ s *Store }

func (v rolesView) Create(_ context.Context, role *auth.Role) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(role.Name)
	if _, exists := s.roleNames[key]; exists {
		return fmt.Errorf("%w: role %s", auth.ErrConflict, role.Name)
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	clone := *role
	s.roles[role.ID] = &clone
	s.roleNames[key] = role.ID
	return nil
}

func (v rolesView) Find(_ context.Context, id string) (*auth.Role, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *role
	return &clone, nil
}

func (v rolesView) FindByName(_ context.Context, name string) (*auth.Role, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleNames[strings.ToLower(name)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *s.roles[id]
	return &clone, nil
}

func (v rolesView) Ensure(ctx context.Context, roles []auth.Role) error {
	for _, role := range roles {
		if _, err := v.FindByName(ctx, role.Name); err == nil {
			continue
		}
		r := role
		if r.ID == "" {
			r.ID = "role-" + strings.ToLower(r.Name)
		}
		if err := v.Create(ctx, &r); err != nil {
			return err
		}
	}
	return nil
}

func (v rolesView) Assign(_ context.Context, a auth.RoleAssignment) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, a.UserID)
	}
	if _, ok := s.roles[a.RoleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, a.RoleID)
	}
	if s.assigned[a.UserID] == nil {
		s.assigned[a.UserID] = make(map[string]auth.RoleAssignment)
	}
	if _, exists := s.assigned[a.UserID][a.RoleID]; exists {
		return fmt.Errorf("%w: assignment exists", auth.ErrConflict)
	}
	a.CreatedAt = time.Now().UTC()
	s.assigned[a.UserID][a.RoleID] = a
	return nil
}

func (v rolesView) Unassign(_ context.Context, userID, roleID string) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assigned[userID][roleID]; !exists {
		return auth.ErrNotFound
	}
	delete(s.assigned[userID], roleID)
	return nil
}

func (v rolesView) RolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Role
	for roleID := range s.assigned[userID] {
		if role, ok := s.roles[roleID]; ok {
			out = append(out, *role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type permsView struct{ s *Store }

func (v permsView) Ensure(_ context.Context, perms []auth.Permission) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, exists := s.perms[p.Key]; exists {
			continue
		}
		stored := p
		if stored.ID == "" {
			stored.ID = "perm-" + stored.Key
		}
		stored.CreatedAt = time.Now().UTC()
		s.perms[p.Key] = &stored
	}
	return nil
}

func (v permsView) SetForRole(_ context.Context, roleID string, keys []string) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := s.perms[key]; !ok {
			return fmt.Errorf("%w: permission %s", auth.ErrNotFound, key)
		}
		set[key] = struct{}{}
	}
	s.rolePerms[roleID] = set
	return nil
}

func (v permsView) PermissionsForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	var out []auth.Permission
	for key := range s.rolePerms[roleID] {
		if p, ok := s.perms[key]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (v permsView) PermissionsForUser(_ context.Context, userID string) ([]string, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{})
	for roleID := range s.assigned[userID] {
		for key := range s.rolePerms[roleID] {
			set[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

type ticketsView struct{ s *Store }

func (v ticketsView) Replace(_ context.Context, t *auth.ResetTicket) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, t.UserID)
	}
	t.CreatedAt = time.Now().UTC()
	clone := *t
	// Only the newest ticket per user is redeemable.
	s.tickets[t.UserID] = &clone
	return nil
}

func (v ticketsView) Current(_ context.Context, userID string) (*auth.ResetTicket, error) {
	s := v.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[userID]
	if !ok || t.Consumed {
		return nil, auth.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (v ticketsView) ConsumeAndSetPassword(_ context.Context, ticketID, userID, passwordHash string, audit *auth.AuditEntry) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[userID]
	if !ok || t.ID != ticketID || t.Consumed {
		return auth.ErrNotFound
	}
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	t.Consumed = true
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	if audit != nil {
		s.audit = append(s.audit, *audit)
	}
	return nil
}

type auditView struct{ s *Store }

func (v auditView) Append(_ context.Context, entry *auth.AuditEntry) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *entry)
	return nil
}
