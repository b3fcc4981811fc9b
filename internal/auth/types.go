package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingKey       = errors.New("missing api key")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
)

// Permissions understood by the API.
const (
	PermissionCreate = "prophecy:create"
	PermissionRead   = "prophecy:read"
	// PermissionAll grants every permission.
	PermissionAll = "*"
)

// Subject is the caller identified by an API key and passed to handlers via
// context.
type Subject struct {
	ID          string
	Permissions []string

	permissionsSet map[string]struct{}
}

// anonymous is used when authentication is disabled.
var anonymous = &Subject{ID: "anonymous", Permissions: []string{PermissionAll}}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidKey
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone returns a copy safe to hand out to request handlers.
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{ID: s.ID, Permissions: append([]string(nil), s.Permissions...)}
	clone.normalise()
	return clone
}
