// Package template resolves the two placeholder syntaxes a question's text
// may carry (spec §4.10): `#{{id}}` matrix template variables and
// `@{{ROLE}}` cell entity references.
package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/models"
)

// idPlaceholder matches `#{{<id>}}`, an integer matrix_template_variable id.
var idPlaceholder = regexp.MustCompile(`#\{\{(\d+)\}\}`)

// rolePlaceholder matches `@{{ROLE}}` for any of the known roles.
var rolePlaceholder = regexp.MustCompile(`@\{\{(LEFT|RIGHT|DOCUMENT)\}\}`)

// VariableStore resolves matrix template variable ids to their current
// value (§3.8's matrix_template_variable.value).
type VariableStore interface {
	LoadVariableValue(ctx context.Context, matrixID, variableID int64) (string, bool, error)
}

// Resolver expands a question's text against one cell's bound entities and
// its matrix's template variables.
type Resolver struct {
	variables VariableStore
}

// New constructs a Resolver.
func New(variables VariableStore) *Resolver {
	return &Resolver{variables: variables}
}

// Resolve implements §4.10: `#{{id}}` placeholders resolve to
// matrix_template_variable.value (missing ids are logged and left in
// place); `@{{ROLE}}` placeholders resolve to "Document {id}" using refs
// bound by role for this cell.
func (r *Resolver) Resolve(ctx context.Context, matrixID int64, text string, refsByRole map[models.Role]int64) (string, error) {
	var idErr error
	resolved := idPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		idStr := idPlaceholder.FindStringSubmatch(match)[1]
		variableID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			idErr = fmt.Errorf("parse template variable id %q: %w", idStr, err)
			return match
		}
		value, found, err := r.variables.LoadVariableValue(ctx, matrixID, variableID)
		if err != nil {
			idErr = fmt.Errorf("load template variable %d: %w", variableID, err)
			return match
		}
		if !found {
			slog.Warn("template: unresolved variable placeholder", "matrix_id", matrixID, "variable_id", variableID)
			return match
		}
		return value
	})
	if idErr != nil {
		return "", idErr
	}

	resolved = rolePlaceholder.ReplaceAllStringFunc(resolved, func(match string) string {
		role := models.Role(rolePlaceholder.FindStringSubmatch(match)[1])
		entityID, bound := refsByRole[role]
		if !bound {
			slog.Warn("template: unresolved role placeholder", "matrix_id", matrixID, "role", role)
			return match
		}
		return fmt.Sprintf("Document %d", entityID)
	})

	return resolved, nil
}

// ExtractVariableIDs returns the distinct matrix_template_variable ids
// named by `#{{id}}` placeholders in text, used by
// SyncQuestionTemplateVariables to diff against current associations.
func ExtractVariableIDs(text string) []int64 {
	matches := idPlaceholder.FindAllStringSubmatch(text, -1)
	seen := make(map[int64]bool)
	var ids []int64
	for _, m := range matches {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// PostgresVariableStore implements VariableStore directly against the
// engine schema.
type PostgresVariableStore struct {
	pool *pgxpool.Pool
}

// NewPostgresVariableStore constructs a PostgresVariableStore.
func NewPostgresVariableStore(pool *pgxpool.Pool) *PostgresVariableStore {
	return &PostgresVariableStore{pool: pool}
}

// LoadVariableValue implements VariableStore.
func (s *PostgresVariableStore) LoadVariableValue(ctx context.Context, matrixID, variableID int64) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM matrix_template_variable WHERE id = $1 AND matrix_id = $2 AND NOT deleted`,
		variableID, matrixID,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load template variable %d: %w", variableID, err)
	}
	return value, true, nil
}
