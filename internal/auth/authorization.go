package auth

import (
	"sync"

	"github.com/canonica-labs/dealquery/internal/errors"
)

// Wildcard grants every table.
const Wildcard = "*"

// TableAuthorizer maps access roles to the physical tables they may read.
// Absence of a grant is denial. An authorizer with no grants at all is
// disabled and allows everything.
type TableAuthorizer struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool // access role -> table
}

// NewTableAuthorizer creates an authorizer with no grants.
func NewTableAuthorizer() *TableAuthorizer {
	return &TableAuthorizer{grants: make(map[string]map[string]bool)}
}

// Grant allows role to read tables.
func (s *TableAuthorizer) Grant(role string, tables ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[role] == nil {
		s.grants[role] = make(map[string]bool)
	}
	for _, t := range tables {
		s.grants[role][t] = true
	}
}

// Revoke removes a table grant from role.
func (s *TableAuthorizer) Revoke(role, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[role], table)
}

// Enabled reports whether any grant is configured.
func (s *TableAuthorizer) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants) > 0
}

// Authorize requires a grant for every table; partial authorization is
// not allowed. The first denied table is reported.
func (s *TableAuthorizer) Authorize(user *User, tables []string) error {
	if !s.Enabled() {
		return nil
	}
	if user == nil {
		user = Anonymous
	}
	for _, table := range tables {
		if !s.HasAccess(user, table) {
			return errors.NewAccessDenied("", table)
		}
	}
	return nil
}

// HasAccess checks a single table.
func (s *TableAuthorizer) HasAccess(user *User, table string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range user.Roles {
		tables, ok := s.grants[role]
		if !ok {
			continue
		}
		if tables[Wildcard] || tables[table] {
			return true
		}
	}
	return false
}
