package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"social-automation-dashboard/internal/models"
)

// ==================== KEYWORDS ====================

// ListKeywords returns the keywords of a principal in creation order
func (r *Repository) ListKeywords(ctx context.Context, userID string) ([]models.Keyword, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `SELECT id, user_id, term, active, created_at FROM keywords WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	keywords, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Keyword, error) {
		var k models.Keyword
		err := row.Scan(&k.ID, &k.UserID, &k.Term, &k.Active, &k.CreatedAt)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan keywords: %w", err)
	}
	return keywords, nil
}

// CountKeywords returns how many keywords a principal has
func (r *Repository) CountKeywords(ctx context.Context, userID string) (int, error) {
	if !validID(userID) {
		return 0, nil
	}
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM keywords WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keywords: %w", err)
	}
	return n, nil
}

// CreateKeyword inserts a keyword; terms are unique per principal ignoring case
func (r *Repository) CreateKeyword(ctx context.Context, k *models.Keyword) error {
	if !validID(k.ID) || !validID(k.UserID) {
		return invalid("keyword ids must be UUIDs")
	}
	if strings.TrimSpace(k.Term) == "" {
		return invalid("keyword term is required")
	}
	query := `INSERT INTO keywords (id, user_id, term, active, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.Pool.Exec(ctx, query, k.ID, k.UserID, k.Term, k.Active, k.CreatedAt); err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create keyword: %w", err)
	}
	return nil
}

// DeleteKeyword removes a keyword and reports whether it existed
func (r *Repository) DeleteKeyword(ctx context.Context, userID, id string) (bool, error) {
	return r.deleteOwned(ctx, "keywords", userID, id)
}

// ==================== TEMPLATES ====================

const templateColumns = `id, user_id, name, kind, body, created_at, updated_at`

func scanTemplate(row pgx.Row) (models.MessageTemplate, error) {
	var (
		t    models.MessageTemplate
		kind string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &kind, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	t.Kind = models.TemplateKind(kind)
	return t, err
}

// ListTemplates returns the message templates of a principal
func (r *Repository) ListTemplates(ctx context.Context, userID string) ([]models.MessageTemplate, error) {
	if !validID(userID) {
		return nil, nil
	}
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	templates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MessageTemplate, error) {
		return scanTemplate(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan templates: %w", err)
	}
	return templates, nil
}

// GetTemplate returns one template owned by userID, or nil
func (r *Repository) GetTemplate(ctx context.Context, userID, id string) (*models.MessageTemplate, error) {
	if !validID(userID) || !validID(id) {
		return nil, nil
	}
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE user_id = $1 AND id = $2`
	t, err := scanTemplate(r.db.Pool.QueryRow(ctx, query, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

// CreateTemplate inserts a template
func (r *Repository) CreateTemplate(ctx context.Context, t *models.MessageTemplate) error {
	if !validID(t.ID) || !validID(t.UserID) {
		return invalid("template ids must be UUIDs")
	}
	query := `INSERT INTO message_templates (` + templateColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, query, t.ID, t.UserID, t.Name, string(t.Kind), t.Body, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// UpdateTemplate rewrites a template and reports whether it existed
func (r *Repository) UpdateTemplate(ctx context.Context, t *models.MessageTemplate) (bool, error) {
	if !validID(t.ID) || !validID(t.UserID) {
		return false, nil
	}
	query := `
	UPDATE message_templates SET name = $3, kind = $4, body = $5, updated_at = $6
	WHERE user_id = $1 AND id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, t.UserID, t.ID, t.Name, string(t.Kind), t.Body, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update template: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteTemplate removes a template and reports whether it existed
func (r *Repository) DeleteTemplate(ctx context.Context, userID, id string) (bool, error) {
	return r.deleteOwned(ctx, "message_templates", userID, id)
}

// deleteOwned deletes a row keyed by (user_id, id). table is always a
// constant from this file.
func (r *Repository) deleteOwned(ctx context.Context, table, userID, id string) (bool, error) {
	if !validID(userID) || !validID(id) {
		return false, nil
	}
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return tag.RowsAffected() == 1, nil
}
