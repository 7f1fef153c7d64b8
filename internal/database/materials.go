package database

import (
	"database/sql"
	"fmt"

	"verifmatos/internal/checklist"
	"verifmatos/internal/domain"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"
)

const templateColumns = `id, name, node_type, expected_qty, parent_id`

// templateStore adapts a connection or transaction to the checklist
// template interfaces.
type templateStore struct {
	q querier
}

func (s templateStore) CreateTemplate(t *models.MaterialTemplate) (int, error) {
	var qty interface{}
	if t.NodeType == models.NodeItem {
		qty = nullableInt(t.ExpectedQty)
	}
	result, err := s.q.Exec(
		`INSERT INTO material_templates (name, node_type, expected_qty, parent_id) VALUES (?, ?, ?, ?)`,
		t.Name, string(t.NodeType), qty, nullableInt(t.ParentID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get template ID: %w", err)
	}
	t.ID = int(id)
	return t.ID, nil
}

// TemplateSubtree returns the template and every descendant, ordered by id.
func (s templateStore) TemplateSubtree(id int) ([]models.MaterialTemplate, error) {
	query := `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM material_templates WHERE id = ?
			UNION
			SELECT m.id FROM material_templates m JOIN subtree s ON m.parent_id = s.id
		)
		SELECT m.id, m.name, m.node_type, m.expected_qty, m.parent_id
		FROM material_templates m
		JOIN subtree s ON m.id = s.id
		ORDER BY m.id
	`
	return queryTemplates(s.q, query, id)
}

func scanTemplate(row interface{ Scan(...interface{}) error }) (models.MaterialTemplate, error) {
	var t models.MaterialTemplate
	var nodeType string
	var qty, parentID sql.NullInt64
	if err := row.Scan(&t.ID, &t.Name, &nodeType, &qty, &parentID); err != nil {
		return t, err
	}
	t.NodeType = models.NodeType(nodeType)
	t.ExpectedQty = intPtr(qty)
	t.ParentID = intPtr(parentID)
	return t, nil
}

func queryTemplates(q querier, query string, args ...interface{}) ([]models.MaterialTemplate, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := []models.MaterialTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func GetTemplates(db *sql.DB) ([]models.MaterialTemplate, error) {
	return queryTemplates(db, `SELECT `+templateColumns+` FROM material_templates ORDER BY id`)
}

func GetRootTemplates(db *sql.DB) ([]models.MaterialTemplate, error) {
	return queryTemplates(db, `SELECT `+templateColumns+` FROM material_templates WHERE parent_id IS NULL ORDER BY name, id`)
}

func getTemplate(q querier, id int) (*models.MaterialTemplate, error) {
	t, err := scanTemplate(q.QueryRow(`SELECT `+templateColumns+` FROM material_templates WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("template", id)
		}
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	return &t, nil
}

func GetTemplate(db *sql.DB, id int) (*models.MaterialTemplate, error) {
	return getTemplate(db, id)
}

// GetTemplateSubtree returns the template and its descendants as flat rows.
func GetTemplateSubtree(db *sql.DB, id int) ([]models.MaterialTemplate, error) {
	return templateStore{q: db}.TemplateSubtree(id)
}

// CreateTemplate inserts a single node. A parent, when given, must exist and
// be a container.
func CreateTemplate(db *sql.DB, t *models.MaterialTemplate) (*models.MaterialTemplate, error) {
	err := withTx(db, func(tx *sql.Tx) error {
		if t.ParentID != nil {
			parent, err := getTemplate(tx, *t.ParentID)
			if err != nil {
				return err
			}
			if parent.NodeType != models.NodeContainer {
				return domain.Invalidf("an item cannot contain children")
			}
		}
		if t.NodeType != models.NodeItem {
			t.ExpectedQty = nil
		}
		_, err := templateStore{q: tx}.CreateTemplate(t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// descendantIDs walks the subtree below id breadth first, one level per
// query, and returns the ids found (id itself excluded).
func descendantIDs(q querier, table string, id int) ([]int, error) {
	var found []int
	seen := map[int]bool{id: true}
	frontier := []int{id}
	for len(frontier) > 0 {
		var next []int
		for _, parent := range frontier {
			rows, err := q.Query("SELECT id FROM "+table+" WHERE parent_id = ? ORDER BY id", parent)
			if err != nil {
				return nil, fmt.Errorf("failed to query children: %w", err)
			}
			for rows.Next() {
				var child int
				if err := rows.Scan(&child); err != nil {
					rows.Close()
					return nil, fmt.Errorf("failed to scan child: %w", err)
				}
				if !seen[child] {
					seen[child] = true
					next = append(next, child)
				}
			}
			rows.Close()
		}
		found = append(found, next...)
		frontier = next
	}
	return found, nil
}

// deleteWalked deletes ids deepest first so no row outlives its parent.
func deleteWalked(q querier, table string, ids []int) error {
	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := q.Exec("DELETE FROM "+table+" WHERE id = ?", ids[i]); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

// DeleteTemplate removes a template and its whole subtree. Events already
// cloned from it are untouched.
func DeleteTemplate(db *sql.DB, id int) (int, error) {
	deleted := 0
	err := withTx(db, func(tx *sql.Tx) error {
		if _, err := getTemplate(tx, id); err != nil {
			return err
		}
		ids, err := descendantIDs(tx, "material_templates", id)
		if err != nil {
			return err
		}
		ids = append([]int{id}, ids...)
		if err := deleteWalked(tx, "material_templates", ids); err != nil {
			return err
		}
		deleted = len(ids)
		return nil
	})
	return deleted, err
}

// SaveWizard creates a root tree from a validated draft. With rootID set the
// existing tree is replaced: the root keeps its id, moves to root level and
// gets its children rebuilt.
func SaveWizard(db *sql.DB, d checklist.Draft, rootID *int) (int, int, error) {
	var id, created int
	err := withTx(db, func(tx *sql.Tx) error {
		store := templateStore{q: tx}
		if rootID == nil {
			var err error
			id, created, err = checklist.Materialize(store, d, nil)
			return err
		}

		if _, err := getTemplate(tx, *rootID); err != nil {
			return err
		}
		id = *rootID

		var qty interface{}
		if d.Type == models.NodeItem {
			qty = nullableInt(d.Qty.Int())
		}
		_, err := tx.Exec(
			`UPDATE material_templates SET name = ?, node_type = ?, expected_qty = ?, parent_id = NULL WHERE id = ?`,
			d.Name, string(d.Type), qty, id,
		)
		if err != nil {
			return fmt.Errorf("failed to update template: %w", err)
		}

		old, err := descendantIDs(tx, "material_templates", id)
		if err != nil {
			return err
		}
		if err := deleteWalked(tx, "material_templates", old); err != nil {
			return err
		}

		created = 1
		for _, child := range d.Children {
			_, n, err := checklist.Materialize(store, child, &id)
			if err != nil {
				return err
			}
			created += n
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return id, created, nil
}

// ImportTemplates creates every parent of a prepared payload in a single
// transaction. Nothing is kept if any insert fails.
func ImportTemplates(db *sql.DB, p checklist.ImportPayload) ([]int, int, error) {
	var roots []int
	created := 0
	err := withTx(db, func(tx *sql.Tx) error {
		store := templateStore{q: tx}
		for _, parent := range p.Parents {
			id, n, err := checklist.Materialize(store, parent, nil)
			if err != nil {
				return err
			}
			roots = append(roots, id)
			created += n
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	logger.Info("Templates imported", "parents", len(roots), "nodes", created)
	return roots, created, nil
}

// ExportTemplates converts the requested root templates back into drafts.
// Unknown ids and ids of non-root templates are skipped.
func ExportTemplates(db *sql.DB, ids []int) (checklist.ImportPayload, error) {
	payload := checklist.ImportPayload{Parents: []checklist.Draft{}}
	store := templateStore{q: db}
	for _, id := range ids {
		rows, err := store.TemplateSubtree(id)
		if err != nil {
			return payload, err
		}
		root, ok := checklist.Index(rows).Subtree(id)
		if !ok || root.Node.ParentID != nil {
			continue
		}
		payload.Parents = append(payload.Parents, checklist.DraftFromTree(root))
	}
	return payload, nil
}
