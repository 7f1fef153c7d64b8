package checklist

import (
	"fmt"

	"verifmatos/internal/models"
)

// NodeCreator persists one event node and returns the id it was assigned.
// The id must be usable right away as the parent of the next node.
type NodeCreator interface {
	CreateNode(node *models.EventNode) (int, error)
}

// TemplateSource returns a template and all its descendants as flat rows.
// An unknown id yields no rows and no error.
type TemplateSource interface {
	TemplateSubtree(id int) ([]models.MaterialTemplate, error)
}

// CloneReport lists which template ids were materialized and which were
// skipped because they no longer exist.
type CloneReport struct {
	Cloned  []int
	Skipped []int
	Nodes   int
}

// Clone copies a template subtree into event nodes, parents first. Every
// copy starts pending and keeps no reference to its template.
func Clone(store NodeCreator, eventID int, root *TreeNode[models.MaterialTemplate], parentID *int) (int, error) {
	t := root.Node
	node := &models.EventNode{
		EventID:     eventID,
		Name:        t.Name,
		NodeType:    t.NodeType,
		ExpectedQty: copyInt(t.ExpectedQty),
		ParentID:    copyInt(parentID),
	}

	id, err := store.CreateNode(node)
	if err != nil {
		return 0, fmt.Errorf("failed to clone template %d: %w", t.ID, err)
	}

	created := 1
	for _, child := range root.Children {
		n, err := Clone(store, eventID, child, &id)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// CloneTemplates materializes each template id as a separate root tree of
// the event. Ids that resolve to nothing are skipped, not reported as errors.
func CloneTemplates(source TemplateSource, store NodeCreator, eventID int, templateIDs []int) (*CloneReport, error) {
	report := &CloneReport{}
	for _, templateID := range templateIDs {
		rows, err := source.TemplateSubtree(templateID)
		if err != nil {
			return report, err
		}

		root, ok := Index(rows).Subtree(templateID)
		if !ok {
			report.Skipped = append(report.Skipped, templateID)
			continue
		}

		n, err := Clone(store, eventID, root, nil)
		report.Nodes += n
		if err != nil {
			return report, err
		}
		report.Cloned = append(report.Cloned, templateID)
	}
	return report, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
