// Package verification is the entry point for verifier actions on an event:
// it resolves public links, applies item updates and notifies observers once
// the update is committed.
package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"verifmatos/internal/checklist"
	"verifmatos/internal/database"
	"verifmatos/internal/domain"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"
	"verifmatos/internal/realtime"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	MaxCommentLength  = 2000
	MaxVerifierLength = 80

	defaultPublishTimeout = 5 * time.Second
)

// Reporter is told when an event gets closed.
type Reporter interface {
	IsEnabled() bool
	SendVerificationReport(event *models.Event, progress checklist.Progress, issues []models.EventNode) error
}

// ItemRequest is a verifier's decision on one item.
type ItemRequest struct {
	Status       string `json:"status"`
	Comment      string `json:"comment"`
	VerifierName string `json:"verifier_name"`
}

func (r *ItemRequest) Normalize() {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.Comment = strings.TrimSpace(r.Comment)
	r.VerifierName = strings.TrimSpace(r.VerifierName)
}

func (r ItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status,
			validation.Required,
			validation.In(models.StatusOK, models.StatusProblem, models.StatusPending).Error("must be ok, problem or pending"),
		),
		validation.Field(&r.Comment, validation.RuneLength(0, MaxCommentLength)),
		validation.Field(&r.VerifierName, validation.RuneLength(0, MaxVerifierLength)),
	)
}

// View is everything needed to render an event checklist.
type View struct {
	Event    *models.Event                           `json:"event"`
	Tree     []*checklist.TreeNode[models.EventNode] `json:"tree"`
	Progress checklist.Progress                      `json:"progress"`
	Items    []models.EventNode                      `json:"items,omitempty"`
}

// ItemResult is returned to the verifier after an update.
type ItemResult struct {
	Node     *models.EventNode  `json:"node"`
	Progress checklist.Progress `json:"progress"`
}

type outbound struct {
	eventID int
	payload []byte
}

type Service struct {
	db             *sql.DB
	publisher      realtime.Publisher
	reporter       Reporter
	log            *logger.Logger
	publishTimeout time.Duration
	wg             sync.WaitGroup

	// writeMu makes the outbound order match the commit order.
	writeMu  sync.Mutex
	mu       sync.Mutex
	pending  []outbound
	draining bool
}

func NewService(db *sql.DB, publisher realtime.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Service{
		db:             db,
		publisher:      publisher,
		log:            log,
		publishTimeout: defaultPublishTimeout,
	}
}

// SetReporter enables reports on close.
func (s *Service) SetReporter(r Reporter) {
	s.reporter = r
}

// Resolve returns the event behind a public link.
func (s *Service) Resolve(eventID int, token string) (*models.Event, error) {
	return database.GetEventByToken(s.db, eventID, token)
}

// Start records the verifier's name on the event.
func (s *Service) Start(eventID int, token, verifierName string) (*models.Event, error) {
	event, err := s.Resolve(eventID, token)
	if err != nil {
		return nil, err
	}
	if event.IsClosed() {
		return nil, domain.Closed(eventID)
	}
	name := strings.TrimSpace(verifierName)
	err = validation.Validate(name,
		validation.Required.Error("your name is required"),
		validation.RuneLength(1, MaxVerifierLength),
	)
	if err != nil {
		return nil, domain.Invalid(err)
	}
	return database.StartVerification(s.db, eventID, name)
}

// View builds the tree and progress of an event from its current rows.
func (s *Service) View(event *models.Event) (*View, error) {
	nodes, err := database.GetEventNodes(s.db, event.ID)
	if err != nil {
		return nil, err
	}

	items := make([]models.EventNode, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType == models.NodeItem {
			items = append(items, n)
		}
	}
	return &View{
		Event:    event,
		Tree:     checklist.BuildTree(nodes),
		Progress: checklist.Summarize(nodes),
		Items:    items,
	}, nil
}

// Progress is the headline statistic of an event.
func (s *Service) Progress(eventID int) (checklist.Progress, error) {
	nodes, err := database.GetEventNodes(s.db, eventID)
	if err != nil {
		return checklist.Progress{}, err
	}
	return checklist.Summarize(nodes), nil
}

// UpdateItem applies a verifier decision reached through a public link.
// Observers are notified after the write commits; a failed notification is
// only logged.
func (s *Service) UpdateItem(eventID int, token string, nodeID int, req ItemRequest) (*ItemResult, error) {
	event, err := s.Resolve(eventID, token)
	if err != nil {
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, domain.Invalid(err)
	}

	verifier := req.VerifierName
	if verifier == "" {
		verifier = event.VerifierName
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	node, nodes, err := database.UpdateItemStatus(s.db, eventID, nodeID, database.ItemUpdate{
		Status:       req.Status,
		Comment:      req.Comment,
		VerifierName: verifier,
		At:           time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	progress := checklist.Summarize(nodes)
	s.publish(eventID, realtime.ProgressMessage{
		Type:         realtime.TypeProgress,
		EventID:      eventID,
		Progress:     progress,
		NodeID:       node.ID,
		Status:       checklist.ItemStatus(node.Status),
		Comment:      node.Comment,
		VerifierName: node.LastVerifierName,
	})

	return &ItemResult{Node: node, Progress: progress}, nil
}

// Close closes an event, tells observers and sends the report. Only the
// first close has side effects.
func (s *Service) Close(eventID int) (*models.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	event, changed, err := database.CloseEvent(s.db, eventID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return event, nil
	}

	s.publish(eventID, realtime.Closed(eventID))

	if s.reporter != nil && s.reporter.IsEnabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sendReport(event)
		}()
	}
	return event, nil
}

func (s *Service) sendReport(event *models.Event) {
	nodes, err := database.GetEventNodes(s.db, event.ID)
	if err != nil {
		s.log.Error("Failed to load nodes for report", "event_id", event.ID, "error", err)
		return
	}

	var issues []models.EventNode
	for _, n := range nodes {
		if n.NodeType == models.NodeItem && n.Status == models.StatusProblem {
			issues = append(issues, n)
		}
	}
	if err := s.reporter.SendVerificationReport(event, checklist.Summarize(nodes), issues); err != nil {
		s.log.Error("Failed to send verification report", "event_id", event.ID, "error", err)
		return
	}
	s.log.Info("Verification report sent", "event_id", event.ID, "issues", len(issues))
}

// publish queues msg behind earlier ones. A single drainer delivers the
// queue in order and exits once it is empty.
func (s *Service) publish(eventID int, msg interface{}) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to encode live message", "event_id", eventID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, outbound{eventID: eventID, payload: payload})
	if !s.draining {
		s.draining = true
		s.wg.Add(1)
		go s.drain()
	}
}

func (s *Service) drain() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		if err := s.publisher.Publish(ctx, next.eventID, next.payload); err != nil {
			s.log.Warn("Live update not delivered", "event_id", next.eventID, "error", err)
		}
		cancel()
	}
}

// Wait blocks until pending notifications and reports are done.
func (s *Service) Wait() {
	s.wg.Wait()
}
