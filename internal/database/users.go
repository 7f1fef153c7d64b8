package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"verifmatos/internal/auth"
	"verifmatos/internal/domain"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"
)

const userColumns = `id, username, password_hash, role, must_change_password, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	var createdAt sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.MustChangePassword,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		user.CreatedAt = createdAt.Time
	}
	return user, nil
}

func GetUserByID(db *sql.DB, userID int) (*models.User, error) {
	user, err := scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("user", userID)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func GetUserByUsername(db *sql.DB, username string) (*models.User, error) {
	user, err := scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("user", username)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func ListUsers(db *sql.DB) ([]models.User, error) {
	rows, err := db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func CreateUser(db *sql.DB, username, password, role string, mustChangePassword bool) (*models.User, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (username, password_hash, role, must_change_password)
		VALUES (?, ?, ?, ?)
	`

	result, err := db.Exec(query, username, hashedPassword, role, mustChangePassword)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Conflict("username already taken")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	return &models.User{
		ID:                 int(id),
		Username:           username,
		PasswordHash:       hashedPassword,
		Role:               role,
		MustChangePassword: mustChangePassword,
		CreatedAt:          time.Now(),
	}, nil
}

// AuthenticateUser never tells an unknown username apart from a wrong
// password.
func AuthenticateUser(db *sql.DB, username, password string) (*models.User, error) {
	user, err := GetUserByUsername(db, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, domain.ErrUnauthorized
	}

	return user, nil
}

// UpdatePassword sets a new password. mustChange flags the account so the
// next login is forced through a password change.
func UpdatePassword(db *sql.DB, userID int, newPassword string, mustChange bool) error {
	hashedPassword, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	result, err := db.Exec(
		"UPDATE users SET password_hash = ?, must_change_password = ? WHERE id = ?",
		hashedPassword, mustChange, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.NotFound("user", userID)
	}
	return nil
}

// DeleteUser removes a user, refusing to remove the last admin.
func DeleteUser(db *sql.DB, userID int) error {
	return withTx(db, func(tx *sql.Tx) error {
		var role string
		err := tx.QueryRow("SELECT role FROM users WHERE id = ?", userID).Scan(&role)
		if err != nil {
			if err == sql.ErrNoRows {
				return domain.NotFound("user", userID)
			}
			return fmt.Errorf("failed to query user: %w", err)
		}

		if role == models.RoleAdmin {
			var admins int
			if err := tx.QueryRow("SELECT COUNT(*) FROM users WHERE role = ?", models.RoleAdmin).Scan(&admins); err != nil {
				return fmt.Errorf("failed to count admins: %w", err)
			}
			if admins <= 1 {
				return domain.Forbidden("cannot delete the last admin")
			}
		}

		if _, err := tx.Exec("DELETE FROM users WHERE id = ?", userID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
}

// EnsureAdmin creates the bootstrap admin if no user has that name yet. The
// account must change its password on first login.
func EnsureAdmin(db *sql.DB, username, password string) (bool, error) {
	var exists bool
	if err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)", username).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check admin existence: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := CreateUser(db, username, password, models.RoleAdmin, true); err != nil {
		return false, err
	}
	logger.Info("Bootstrap admin created", "username", username)
	return true, nil
}
