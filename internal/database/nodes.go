package database

import (
	"database/sql"
	"fmt"
	"time"

	"verifmatos/internal/domain"
	"verifmatos/internal/models"
)

const nodeColumns = `id, event_id, name, node_type, expected_qty, parent_id,
	COALESCE(status, ''), COALESCE(comment, ''), COALESCE(last_verifier_name, ''), updated_at`

// nodeStore adapts a connection or transaction to checklist.NodeCreator.
type nodeStore struct {
	q querier
}

func (s nodeStore) CreateNode(n *models.EventNode) (int, error) {
	var status interface{}
	if n.Status != "" {
		status = n.Status
	}
	result, err := s.q.Exec(
		`INSERT INTO event_nodes (event_id, name, node_type, expected_qty, parent_id, status) VALUES (?, ?, ?, ?, ?, ?)`,
		n.EventID, n.Name, string(n.NodeType), nullableInt(n.ExpectedQty), nullableInt(n.ParentID), status,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create event node: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get event node ID: %w", err)
	}
	n.ID = int(id)
	return n.ID, nil
}

func scanNode(row interface{ Scan(...interface{}) error }) (models.EventNode, error) {
	var n models.EventNode
	var nodeType string
	var qty, parentID sql.NullInt64
	var updatedAt sql.NullTime
	err := row.Scan(
		&n.ID,
		&n.EventID,
		&n.Name,
		&nodeType,
		&qty,
		&parentID,
		&n.Status,
		&n.Comment,
		&n.LastVerifierName,
		&updatedAt,
	)
	if err != nil {
		return n, err
	}
	n.NodeType = models.NodeType(nodeType)
	n.ExpectedQty = intPtr(qty)
	n.ParentID = intPtr(parentID)
	n.UpdatedAt = timePtr(updatedAt)
	return n, nil
}

func getEventNodes(q querier, eventID int) ([]models.EventNode, error) {
	rows, err := q.Query(`SELECT `+nodeColumns+` FROM event_nodes WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event nodes: %w", err)
	}
	defer rows.Close()

	nodes := []models.EventNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GetEventNodes returns every node of an event, flat, in creation order.
func GetEventNodes(db *sql.DB, eventID int) ([]models.EventNode, error) {
	return getEventNodes(db, eventID)
}

func getEventNode(q querier, eventID, nodeID int) (*models.EventNode, error) {
	n, err := scanNode(q.QueryRow(`SELECT `+nodeColumns+` FROM event_nodes WHERE id = ? AND event_id = ?`, nodeID, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("node", nodeID)
		}
		return nil, fmt.Errorf("failed to query event node: %w", err)
	}
	return &n, nil
}

func GetEventNode(db *sql.DB, eventID, nodeID int) (*models.EventNode, error) {
	return getEventNode(db, eventID, nodeID)
}

// ItemUpdate is one verifier action on an item. An empty or pending status
// clears the stored state.
type ItemUpdate struct {
	Status       string
	Comment      string
	VerifierName string
	At           time.Time
}

// UpdateItemStatus applies an update to a single item of an open event and
// returns the updated node together with every node of the event as
// committed. Containers and nodes of other events are reported as not found.
func UpdateItemStatus(db *sql.DB, eventID, nodeID int, u ItemUpdate) (*models.EventNode, []models.EventNode, error) {
	var node *models.EventNode
	var nodes []models.EventNode
	err := withTx(db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow(`SELECT status FROM events WHERE id = ?`, eventID).Scan(&status)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.NotFound("event", eventID)
			}
			return fmt.Errorf("failed to query event: %w", err)
		}
		if status == models.EventClosed {
			return domain.Closed(eventID)
		}

		var stored, comment, verifier interface{}
		if u.Status != "" && u.Status != models.StatusPending {
			stored = u.Status
		}
		if u.Comment != "" {
			comment = u.Comment
		}
		if u.VerifierName != "" {
			verifier = u.VerifierName
		}
		at := u.At
		if at.IsZero() {
			at = time.Now().UTC()
		}

		result, err := tx.Exec(
			`UPDATE event_nodes SET status = ?, comment = ?, last_verifier_name = COALESCE(?, last_verifier_name), updated_at = ?
			 WHERE id = ? AND event_id = ? AND node_type = ?`,
			stored, comment, verifier, at, nodeID, eventID, string(models.NodeItem),
		)
		if err != nil {
			return fmt.Errorf("failed to update event node: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return domain.NotFound("item", nodeID)
		}

		if node, err = getEventNode(tx, eventID, nodeID); err != nil {
			return err
		}
		nodes, err = getEventNodes(tx, eventID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return node, nodes, nil
}

// GetIssues lists every item currently flagged as a problem, newest first.
func GetIssues(db *sql.DB) ([]models.Issue, error) {
	query := `
		SELECT n.id, n.event_id, n.name, n.node_type, n.expected_qty, n.parent_id,
		       COALESCE(n.status, ''), COALESCE(n.comment, ''), COALESCE(n.last_verifier_name, ''), n.updated_at,
		       e.name
		FROM event_nodes n
		INNER JOIN events e ON e.id = n.event_id
		WHERE n.status = ?
		ORDER BY n.updated_at DESC, n.id DESC
	`
	rows, err := db.Query(query, models.StatusProblem)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	issues := []models.Issue{}
	for rows.Next() {
		var issue models.Issue
		var nodeType string
		var qty, parentID sql.NullInt64
		var updatedAt sql.NullTime
		err := rows.Scan(
			&issue.ID,
			&issue.EventID,
			&issue.Name,
			&nodeType,
			&qty,
			&parentID,
			&issue.Status,
			&issue.Comment,
			&issue.LastVerifierName,
			&updatedAt,
			&issue.EventName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issue.NodeType = models.NodeType(nodeType)
		issue.ExpectedQty = intPtr(qty)
		issue.ParentID = intPtr(parentID)
		issue.UpdatedAt = timePtr(updatedAt)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}
