// Package repository implements the persistence layer over MySQL.
// Each repository is a thin struct around *sql.DB; multi-statement
// mutations run inside a transaction owned by the repository so
// callers never observe a half-applied write.
package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist.
// Callers that treat absence as a normal condition (lazy course
// creation, watchlist membership checks) test for it with
// errors.Is.
var ErrNotFound = errors.New("not found")
