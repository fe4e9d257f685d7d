package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// ComputeSignature returns the hex digest that uniquely identifies a cell by
// its multiset of (role, entity_set_member_id) pairs. refs is sorted by role
// (per the fixed LEFT < RIGHT < QUESTION < DOCUMENT order, not string order)
// then by entity_set_member_id before hashing, so the signature is
// independent of the order refs were generated in.
func ComputeSignature(refs []RefSpec) string {
	sorted := make([]RefSpec, len(refs))
	copy(sorted, refs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Role != sorted[j].Role {
			return sorted[i].Role.Less(sorted[j].Role)
		}
		return sorted[i].EntitySetMemberID < sorted[j].EntitySetMemberID
	})

	h := sha256.New()
	for _, ref := range sorted {
		fmt.Fprintf(h, "%s:%d|", ref.Role, ref.EntitySetMemberID)
	}
	return hex.EncodeToString(h.Sum(nil))
}
