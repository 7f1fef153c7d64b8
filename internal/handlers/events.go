package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"verifmatos/internal/checklist"
	"verifmatos/internal/database"
	"verifmatos/internal/domain"
	"verifmatos/internal/models"
	"verifmatos/internal/realtime"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const dateLayout = "2006-01-02"

type eventRequest struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	Info        string `json:"info"`
	TemplateIDs []int  `json:"template_ids"`
}

func (r eventRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.RuneLength(1, 200)),
		validation.Field(&r.Date, validation.Date(dateLayout).Error("must be a date formatted as YYYY-MM-DD")),
		validation.Field(&r.TemplateIDs,
			validation.Required.Error("select at least one template"),
			validation.Each(validation.Min(1)),
		),
	)
}

func (r eventRequest) input() database.EventInput {
	in := database.EventInput{Name: r.Name, Info: r.Info, TemplateIDs: r.TemplateIDs}
	if r.Date != "" {
		if d, err := time.Parse(dateLayout, r.Date); err == nil {
			in.Date = &d
		}
	}
	return in
}

type eventSummary struct {
	models.Event
	Progress checklist.Progress `json:"progress"`
}

func (h *Handler) handleListEvents(c *gin.Context) {
	events, err := database.ListEvents(h.db)
	if err != nil {
		h.respondError(c, err)
		return
	}

	summaries := make([]eventSummary, 0, len(events))
	for _, event := range events {
		progress, err := h.verify.Progress(event.ID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		summaries = append(summaries, eventSummary{Event: event, Progress: progress})
	}
	c.JSON(http.StatusOK, gin.H{"events": summaries})
}

func (h *Handler) handleCreateEvent(c *gin.Context) {
	var req eventRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Date = strings.TrimSpace(req.Date)
	req.Info = strings.TrimSpace(req.Info)
	if err := req.Validate(); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}

	event, report, err := database.CreateEvent(h.db, req.input())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"event":       event,
		"public_path": publicPath(event),
		"cloned":      report.Cloned,
		"skipped":     report.Skipped,
		"nodes":       report.Nodes,
	})
}

func (h *Handler) loadEvent(c *gin.Context) (*models.Event, bool) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	event, err := database.GetEvent(h.db, id)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return event, true
}

func (h *Handler) handleEventDetail(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	view, err := h.verify.View(event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event":       view.Event,
		"tree":        view.Tree,
		"progress":    view.Progress,
		"items":       view.Items,
		"public_path": publicPath(event),
	})
}

func (h *Handler) handleEventMonitor(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	view, err := h.verify.View(event)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event":    view.Event,
		"tree":     view.Tree,
		"progress": view.Progress,
		"ws_path":  "/ws/events/" + c.Param("id"),
	})
}

func (h *Handler) handleCloseEvent(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	event, err := h.verify.Close(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event})
}

func (h *Handler) handleDeleteEvent(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := database.DeleteEvent(h.db, id); err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("Event deleted", "event_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) handleStaffWS(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	h.serveObserver(c, event)
}

// serveObserver upgrades the connection and sends the current progress so
// the observer does not wait for the next update.
func (h *Handler) serveObserver(c *gin.Context, event *models.Event) {
	client, err := realtime.ServeWS(h.hub, h.upgrader, c.Writer, c.Request, event.ID)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "event_id", event.ID, "error", err)
		return
	}

	progress, err := h.verify.Progress(event.ID)
	if err != nil {
		h.log.Error("Failed to compute snapshot", "event_id", event.ID, "error", err)
		return
	}
	h.sendTo(client, realtime.Snapshot(event.ID, progress))
	if event.IsClosed() {
		h.sendTo(client, realtime.Closed(event.ID))
	}
}

func (h *Handler) sendTo(client *realtime.Client, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("Failed to encode live message", "error", err)
		return
	}
	client.Send(payload)
}
