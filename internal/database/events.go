package database

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"verifmatos/internal/checklist"
	"verifmatos/internal/domain"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"
)

const eventColumns = `id, name, date, COALESCE(info, ''), public_token, status, COALESCE(verifier_name, ''),
	verification_started_at, verification_completed_at, created_at`

// EventInput is a validated event creation request.
type EventInput struct {
	Name        string
	Date        *time.Time
	Info        string
	TemplateIDs []int
}

// generateSecureToken returns 24 random bytes, URL-safe base64 encoded.
func generateSecureToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.Event, error) {
	event := &models.Event{}
	var date, startedAt, completedAt, createdAt sql.NullTime
	err := row.Scan(
		&event.ID,
		&event.Name,
		&date,
		&event.Info,
		&event.PublicToken,
		&event.Status,
		&event.VerifierName,
		&startedAt,
		&completedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	event.Date = timePtr(date)
	event.VerificationStartedAt = timePtr(startedAt)
	event.VerificationCompletedAt = timePtr(completedAt)
	if createdAt.Valid {
		event.CreatedAt = createdAt.Time
	}
	return event, nil
}

func getEvent(q querier, eventID int) (*models.Event, error) {
	event, err := scanEvent(q.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("event", eventID)
		}
		return nil, fmt.Errorf("failed to query event: %w", err)
	}
	return event, nil
}

func GetEvent(db *sql.DB, eventID int) (*models.Event, error) {
	return getEvent(db, eventID)
}

// GetEventByToken resolves the public link of an event. A wrong token is
// reported exactly like a missing event.
func GetEventByToken(db *sql.DB, eventID int, token string) (*models.Event, error) {
	event, err := getEvent(db, eventID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(event.PublicToken), []byte(token)) != 1 {
		return nil, domain.NotFound("event", eventID)
	}
	return event, nil
}

func ListEvents(db *sql.DB) ([]models.Event, error) {
	rows, err := db.Query(`SELECT ` + eventColumns + ` FROM events ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// CreateEvent inserts the event and clones every requested template into it
// in one transaction. Template ids that no longer exist are skipped.
func CreateEvent(db *sql.DB, in EventInput) (*models.Event, *checklist.CloneReport, error) {
	token, err := generateSecureToken()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate public token: %w", err)
	}

	var event *models.Event
	var report *checklist.CloneReport
	err = withTx(db, func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`INSERT INTO events (name, date, info, public_token, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			in.Name, in.Date, in.Info, token, models.EventOpen, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get event ID: %w", err)
		}

		report, err = checklist.CloneTemplates(templateStore{q: tx}, nodeStore{q: tx}, int(id), in.TemplateIDs)
		if err != nil {
			return err
		}

		event, err = getEvent(tx, int(id))
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if len(report.Skipped) > 0 {
		logger.Debug("Skipped missing templates", "event_id", event.ID, "template_ids", report.Skipped)
	}
	logger.Info("Event created", "event_id", event.ID, "roots", len(report.Cloned), "nodes", report.Nodes)
	return event, report, nil
}

// StartVerification records who is verifying the event and when they began.
func StartVerification(db *sql.DB, eventID int, verifierName string) (*models.Event, error) {
	result, err := db.Exec(
		`UPDATE events SET verifier_name = ?, verification_started_at = ? WHERE id = ?`,
		verifierName, time.Now().UTC(), eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start verification: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, domain.NotFound("event", eventID)
	}
	return getEvent(db, eventID)
}

// CloseEvent marks the event closed. Closing twice is harmless; the second
// call reports changed=false and keeps the first completion time.
func CloseEvent(db *sql.DB, eventID int) (*models.Event, bool, error) {
	var event *models.Event
	changed := false
	err := withTx(db, func(tx *sql.Tx) error {
		current, err := getEvent(tx, eventID)
		if err != nil {
			return err
		}
		if !current.IsClosed() {
			_, err := tx.Exec(
				`UPDATE events SET status = ?, verification_completed_at = ? WHERE id = ?`,
				models.EventClosed, time.Now().UTC(), eventID,
			)
			if err != nil {
				return fmt.Errorf("failed to close event: %w", err)
			}
			changed = true
		}
		event, err = getEvent(tx, eventID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return event, changed, nil
}

// DeleteEvent removes an event and all of its nodes.
func DeleteEvent(db *sql.DB, eventID int) error {
	return withTx(db, func(tx *sql.Tx) error {
		if _, err := getEvent(tx, eventID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM event_nodes WHERE event_id = ?`, eventID); err != nil {
			return fmt.Errorf("failed to delete event nodes: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM events WHERE id = ?`, eventID); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
}
