package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"verifmatos/internal/checklist"
	"verifmatos/internal/database"
	"verifmatos/internal/domain"
	"verifmatos/internal/models"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const maxImportSize = 2 << 20

type materialRequest struct {
	Name        string          `json:"name"`
	NodeType    models.NodeType `json:"node_type"`
	ExpectedQty *int            `json:"expected_qty"`
	ParentID    *int            `json:"parent_id"`
}

func (r materialRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.RuneLength(1, checklist.MaxNameLength)),
		validation.Field(&r.NodeType, validation.Required, validation.In(models.NodeContainer, models.NodeItem)),
		validation.Field(&r.ExpectedQty, validation.Min(0)),
		validation.Field(&r.ParentID, validation.Min(1)),
	)
}

func (h *Handler) handleMaterials(c *gin.Context) {
	templates, err := database.GetTemplates(h.db)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tree":      checklist.BuildTree(templates),
		"templates": templates,
	})
}

func (h *Handler) handleRootMaterials(c *gin.Context) {
	roots, err := database.GetRootTemplates(h.db)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": roots})
}

func (h *Handler) handleCreateMaterial(c *gin.Context) {
	var req materialRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.NodeType = models.NodeType(strings.ToLower(strings.TrimSpace(string(req.NodeType))))
	if req.NodeType == "" {
		req.NodeType = models.NodeContainer
	}
	if err := req.Validate(); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}

	template, err := database.CreateTemplate(h.db, &models.MaterialTemplate{
		Name:        req.Name,
		NodeType:    req.NodeType,
		ExpectedQty: req.ExpectedQty,
		ParentID:    req.ParentID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"template": template})
}

func (h *Handler) handleWizard(c *gin.Context) {
	var payload checklist.WizardPayload
	if !h.bindJSON(c, &payload) {
		return
	}
	draft, err := payload.Draft()
	if err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}

	id, created, err := database.SaveWizard(h.db, draft, payload.RootID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if payload.RootID != nil {
		status = http.StatusOK
	}
	h.log.Info("Template tree saved", "template_id", id, "nodes", created, "replaced", payload.RootID != nil)
	c.JSON(status, gin.H{"id": id, "created": created})
}

// parseIDs reads a comma separated id list, ignoring anything that is not a
// positive integer.
func parseIDs(raw string) []int {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (h *Handler) handleExportMaterials(c *gin.Context) {
	ids := parseIDs(c.Query("ids"))
	if len(ids) == 0 {
		h.respondError(c, domain.Invalidf("no valid template id selected"))
		return
	}

	payload, err := database.ExportTemplates(h.db, ids)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "yaml") {
		out, err := yaml.Marshal(payload)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="materials.yaml"`)
		c.Data(http.StatusOK, "application/x-yaml; charset=utf-8", out)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// Imports accept JSON or YAML; the whole document is validated before
// anything is written.
func (h *Handler) handleImportMaterials(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize+1))
	if err != nil {
		h.respondError(c, domain.Invalidf("failed to read request body"))
		return
	}
	if len(data) > maxImportSize {
		h.respondError(c, domain.Invalidf("import is too large"))
		return
	}

	var payload checklist.ImportPayload
	if err := checklist.Decode(data, &payload); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}
	if err := payload.Prepare(); err != nil {
		h.respondError(c, domain.Invalid(err))
		return
	}

	roots, created, err := database.ImportTemplates(h.db, payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"roots": roots, "created": created})
}

func (h *Handler) handleDeleteMaterial(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}

	deleted, err := database.DeleteTemplate(h.db, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("Template deleted", "template_id", id, "nodes", deleted)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
