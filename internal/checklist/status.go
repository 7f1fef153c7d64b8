// Package checklist materializes template trees into event checklists and
// derives hierarchical verification status from leaf items.
//
// Nothing in this package is persisted: statuses, counts and progress are
// recomputed from the stored rows on every read.
package checklist

import (
	"verifmatos/internal/models"
)

// Counts is the number of items below (and including) a node, by status.
type Counts struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Problem int `json:"problem"`
	Pending int `json:"pending"`
}

func (c Counts) add(o Counts) Counts {
	return Counts{
		Total:   c.Total + o.Total,
		OK:      c.OK + o.OK,
		Problem: c.Problem + o.Problem,
		Pending: c.Pending + o.Pending,
	}
}

// Result is the derived state of one node.
type Result struct {
	Status string `json:"status"`
	Counts Counts `json:"counts"`
}

// ItemStatus normalizes a stored item status. Anything other than ok or
// problem is pending.
func ItemStatus(stored string) string {
	switch stored {
	case models.StatusProblem:
		return models.StatusProblem
	case models.StatusOK:
		return models.StatusOK
	default:
		return models.StatusPending
	}
}

// NodeStatus derives the status of a node from its kind, its own stored
// status and the already derived results of its children.
//
// Containers: ok if every child is ok, else problem if any child is a
// problem, else pending. An empty container is pending, never ok.
func NodeStatus(kind models.NodeType, stored string, children []Result) string {
	if kind == models.NodeItem {
		return ItemStatus(stored)
	}
	if len(children) == 0 {
		return models.StatusPending
	}

	allOK := true
	anyProblem := false
	for _, child := range children {
		if child.Status != models.StatusOK {
			allOK = false
		}
		if child.Status == models.StatusProblem {
			anyProblem = true
		}
	}

	switch {
	case allOK:
		return models.StatusOK
	case anyProblem:
		return models.StatusProblem
	default:
		return models.StatusPending
	}
}

// NodeCounts mirrors NodeStatus: an item counts itself once under its
// status, a container sums its children.
func NodeCounts(kind models.NodeType, status string, children []Result) Counts {
	if kind == models.NodeItem {
		c := Counts{Total: 1}
		switch status {
		case models.StatusOK:
			c.OK = 1
		case models.StatusProblem:
			c.Problem = 1
		default:
			c.Pending = 1
		}
		return c
	}

	var total Counts
	for _, child := range children {
		total = total.add(child.Counts)
	}
	return total
}

// Derive computes both status and counts for a node.
func Derive(kind models.NodeType, stored string, children []Result) Result {
	status := NodeStatus(kind, stored, children)
	return Result{
		Status: status,
		Counts: NodeCounts(kind, status, children),
	}
}
