package checklist

import (
	"verifmatos/internal/models"
)

// Progress is the flat, item-only completion statistic of an event. It does
// not look at containers at all.
type Progress struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Problem int `json:"problem"`
	Pending int `json:"pending"`
	Percent int `json:"percent"`
}

// Summarize counts items by stored status in a single pass.
func Summarize[N Node](nodes []N) Progress {
	var p Progress
	for _, n := range nodes {
		if n.Kind() != models.NodeItem {
			continue
		}
		p.Total++
		switch n.StoredStatus() {
		case models.StatusOK:
			p.OK++
		case models.StatusProblem:
			p.Problem++
		}
	}
	p.Pending = p.Total - p.OK - p.Problem
	if p.Total > 0 {
		p.Percent = p.OK * 100 / p.Total
	}
	return p
}

// Complete reports whether every item has been verified one way or another.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Pending == 0
}
