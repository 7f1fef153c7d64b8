package models

import (
	"time"
)

type NodeType string

const (
	NodeContainer NodeType = "container"
	NodeItem      NodeType = "item"
)

func (t NodeType) Valid() bool {
	return t == NodeContainer || t == NodeItem
}

// Verification states. Containers never store one; an item with no stored
// state (or an unknown one) counts as pending.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusProblem = "problem"
)

const (
	RoleAdmin = "admin"
	RoleChief = "chief"
	RoleStock = "stock"
)

const (
	EventOpen   = "open"
	EventClosed = "closed"
)

type User struct {
	ID                 int       `json:"id" db:"id"`
	Username           string    `json:"username" db:"username"`
	PasswordHash       string    `json:"-" db:"password_hash"`
	Role               string    `json:"role" db:"role"`
	MustChangePassword bool      `json:"must_change_password" db:"must_change_password"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

type MaterialTemplate struct {
	ID          int      `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	NodeType    NodeType `json:"node_type" db:"node_type"`
	ExpectedQty *int     `json:"expected_qty" db:"expected_qty"`
	ParentID    *int     `json:"parent_id" db:"parent_id"`
}

func (m MaterialTemplate) NodeID() int { return m.ID }
func (m MaterialTemplate) ParentNodeID() *int { return m.ParentID }
func (m MaterialTemplate) Kind() NodeType { return m.NodeType }
func (m MaterialTemplate) StoredStatus() string { return "" }

type Event struct {
	ID                      int        `json:"id" db:"id"`
	Name                    string     `json:"name" db:"name"`
	Date                    *time.Time `json:"date" db:"date"`
	Info                    string     `json:"info" db:"info"`
	PublicToken             string     `json:"-" db:"public_token"`
	Status                  string     `json:"status" db:"status"`
	VerifierName            string     `json:"verifier_name" db:"verifier_name"`
	VerificationStartedAt   *time.Time `json:"verification_started_at" db:"verification_started_at"`
	VerificationCompletedAt *time.Time `json:"verification_completed_at" db:"verification_completed_at"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
}

func (e *Event) IsClosed() bool {
	return e.Status == EventClosed
}

type EventNode struct {
	ID               int        `json:"id" db:"id"`
	EventID          int        `json:"event_id" db:"event_id"`
	Name             string     `json:"name" db:"name"`
	NodeType         NodeType   `json:"node_type" db:"node_type"`
	ExpectedQty      *int       `json:"expected_qty" db:"expected_qty"`
	ParentID         *int       `json:"parent_id" db:"parent_id"`
	Status           string     `json:"status,omitempty" db:"status"`
	Comment          string     `json:"comment,omitempty" db:"comment"`
	LastVerifierName string     `json:"last_verifier_name,omitempty" db:"last_verifier_name"`
	UpdatedAt        *time.Time `json:"updated_at" db:"updated_at"`
}

func (n EventNode) NodeID() int { return n.ID }
func (n EventNode) ParentNodeID() *int { return n.ParentID }
func (n EventNode) Kind() NodeType { return n.NodeType }
func (n EventNode) StoredStatus() string { return n.Status }

// Issue is a problem item joined with the event it belongs to.
type Issue struct {
	EventNode
	EventName string `json:"event_name"`
}
