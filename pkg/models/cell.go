package models

// MatrixCell is a coordinate in the matrix, fully described by its multiset
// of (role, entity_set_member_id) pairs. The signature is the dedup key.
type MatrixCell struct {
	ID                  int64
	MatrixID            int64
	CompanyID           string
	Status              CellStatus
	CellType            CellType
	CurrentAnswerSetID  *int64
	CellSignature       string
	Deleted             bool
}

// CellEntityRef is one coordinate of a cell: a role bound to a specific
// entity-set member.
type CellEntityRef struct {
	ID                int64
	MatrixCellID      int64
	MatrixID          int64
	EntitySetID       int64
	EntitySetMemberID int64
	Role              Role
	EntityOrder       int
	CompanyID         string
}

// RefSpec is the (role, member) pair a strategy emits before a cell exists
// in storage — the input to signature computation and cell creation.
type RefSpec struct {
	Role              Role
	EntitySetID       int64
	EntitySetMemberID int64
	EntityOrder       int
}

// CellSpec is a strategy's proposal for a cell that should exist: its type
// and the ordered set of refs that define it. CellSignature is filled in by
// ComputeSignature before the spec is persisted or deduplicated against.
type CellSpec struct {
	CellType      CellType
	Refs          []RefSpec
	CellSignature string
}

// CellView hydrates a MatrixCell with resolved entity labels for display,
// per SPEC_FULL.md §D (mapper-shape supplement). It is a plain data holder:
// the caller fills RefLabels, and this package computes no labels or
// fallbacks.
type CellView struct {
	Cell         MatrixCell
	RefLabels    map[Role]string
	DocumentIDs  []int64 // for CORRELATION cells: LEFT then RIGHT entity ids
	QuestionID   int64
}
