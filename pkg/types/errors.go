package types

import "errors"

// Validation errors shared by transport and storage layers.
var (
	ErrInvalidClassroomID = errors.New("classroom ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidLoginName   = errors.New("login name must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrInvalidRole        = errors.New("invalid role: must be 'admin', 'professor' or 'monitor'")
	ErrInvalidAction      = errors.New("invalid command action")
)
