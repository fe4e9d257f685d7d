package models

import "time"

// Matrix is a named workspace container for cells. The "workspace" entity
// above it is treated as an opaque foreign key (§9 open question).
type Matrix struct {
	ID          int64
	WorkspaceID int64
	CompanyID   string
	Name        string
	Description string
	MatrixType  MatrixType
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Deleted     bool
}
