package types

import (
	"regexp"
)

var (
	classroomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	loginNameRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// IsValidClassroomID checks classroom ID format: 1-50 characters,
// alphanumeric plus underscore and hyphen.
func IsValidClassroomID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return classroomIDRegex.MatchString(id)
}

// IsValidLoginName checks login name format: 1-50 characters, alphanumeric
// plus underscore and hyphen.
func IsValidLoginName(name string) bool {
	if len(name) < 1 || len(name) > 50 {
		return false
	}
	return loginNameRegex.MatchString(name)
}

// Validate ensures the identity meets all storage requirements.
func (i *Identity) Validate() error {
	if !IsValidLoginName(i.LoginName) {
		return ErrInvalidLoginName
	}
	if len(i.DisplayName) < 1 || len(i.DisplayName) > 100 {
		return ErrInvalidDisplayName
	}
	if !i.Role.IsValid() {
		return ErrInvalidRole
	}
	return nil
}
