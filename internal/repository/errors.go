package repository

import "errors"

// ErrNotFound is returned when a record does not exist for the organization
var ErrNotFound = errors.New("record not found")
