package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrSyncInProgress = errors.New("a sync cycle is already running")
	ErrNoMapping      = errors.New("no identity mapping for record")
)
