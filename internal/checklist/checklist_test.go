package checklist

import (
	"errors"
	"testing"

	"verifmatos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func item(id int, parent *int, name, status string) models.EventNode {
	return models.EventNode{ID: id, EventID: 1, Name: name, NodeType: models.NodeItem, ParentID: parent, Status: status}
}

func container(id int, parent *int, name string) models.EventNode {
	return models.EventNode{ID: id, EventID: 1, Name: name, NodeType: models.NodeContainer, ParentID: parent}
}

// Bag -> [Tent, Poles -> [PoleA, PoleB]]
func bagScenario() []models.EventNode {
	return []models.EventNode{
		item(5, intPtr(3), "PoleB", models.StatusProblem),
		container(1, nil, "Bag"),
		item(2, intPtr(1), "Tent", models.StatusOK),
		container(3, intPtr(1), "Poles"),
		item(4, intPtr(3), "PoleA", models.StatusOK),
	}
}

func TestBuildTreeScenario(t *testing.T) {
	roots := BuildTree(bagScenario())
	require.Len(t, roots, 1)

	bag := roots[0]
	assert.Equal(t, "Bag", bag.Node.Name)
	assert.Equal(t, models.StatusProblem, bag.Status)
	assert.Equal(t, Counts{Total: 3, OK: 2, Problem: 1}, bag.Counts)

	require.Len(t, bag.Children, 2)
	assert.Equal(t, "Tent", bag.Children[0].Node.Name)
	assert.Equal(t, models.StatusOK, bag.Children[0].Status)

	poles := bag.Children[1]
	assert.Equal(t, "Poles", poles.Node.Name)
	assert.Equal(t, models.StatusProblem, poles.Status)
	require.Len(t, poles.Children, 2)
	assert.Equal(t, "PoleB", poles.Children[0].Node.Name, "sibling order follows input order")
	assert.Equal(t, "PoleA", poles.Children[1].Node.Name)
}

func TestBuildTreeDropsOrphans(t *testing.T) {
	nodes := []models.EventNode{
		container(1, nil, "Bag"),
		item(2, intPtr(99), "Lost", models.StatusOK),
	}
	roots := BuildTree(nodes)
	require.Len(t, roots, 1)
	assert.Empty(t, roots[0].Children)
	assert.Equal(t, models.StatusPending, roots[0].Status)
}

func TestBuildTreeSurvivesDuplicateIDs(t *testing.T) {
	nodes := []models.EventNode{
		container(1, nil, "Bag"),
		container(1, intPtr(1), "Again"),
	}
	roots := BuildTree(nodes)
	require.Len(t, roots, 1)
}

func TestBuildTreeEmpty(t *testing.T) {
	assert.Empty(t, BuildTree([]models.EventNode{}))
}

func TestSubtree(t *testing.T) {
	f := Index(bagScenario())
	poles, ok := f.Subtree(3)
	require.True(t, ok)
	assert.Equal(t, 2, poles.Counts.Total)

	_, ok = f.Subtree(42)
	assert.False(t, ok)
}

func TestNodeStatusContainerRules(t *testing.T) {
	ok := Result{Status: models.StatusOK}
	problem := Result{Status: models.StatusProblem}
	pending := Result{Status: models.StatusPending}

	tests := []struct {
		name     string
		children []Result
		want     string
	}{
		{"empty container is pending", nil, models.StatusPending},
		{"all ok", []Result{ok, ok}, models.StatusOK},
		{"problem wins over pending", []Result{ok, pending, problem}, models.StatusProblem},
		{"ok and pending", []Result{ok, pending}, models.StatusPending},
		{"only pending", []Result{pending}, models.StatusPending},
		{"only problem", []Result{problem}, models.StatusProblem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NodeStatus(models.NodeContainer, "", tt.children))
		})
	}
}

func TestNodeStatusItem(t *testing.T) {
	assert.Equal(t, models.StatusOK, NodeStatus(models.NodeItem, "ok", nil))
	assert.Equal(t, models.StatusProblem, NodeStatus(models.NodeItem, "problem", nil))
	assert.Equal(t, models.StatusPending, NodeStatus(models.NodeItem, "", nil))
	assert.Equal(t, models.StatusPending, NodeStatus(models.NodeItem, "weird", nil))
}

func TestCountsMatchItemDescendants(t *testing.T) {
	roots := BuildTree(bagScenario())
	Walk(roots, func(n *TreeNode[models.EventNode], _ int) {
		items := 0
		Walk([]*TreeNode[models.EventNode]{n}, func(d *TreeNode[models.EventNode], _ int) {
			if d.Node.NodeType == models.NodeItem {
				items++
			}
		})
		assert.Equal(t, items, n.Counts.Total, n.Node.Name)
		assert.Equal(t, n.Counts.Total, n.Counts.OK+n.Counts.Problem+n.Counts.Pending, n.Node.Name)
	})
}

func TestSummarize(t *testing.T) {
	nodes := bagScenario()
	nodes[4].Status = ""
	p := Summarize(nodes)
	assert.Equal(t, Progress{Total: 3, OK: 1, Problem: 1, Pending: 1, Percent: 33}, p)
	assert.False(t, p.Complete())

	assert.Equal(t, Progress{}, Summarize([]models.EventNode{container(1, nil, "Empty")}))

	odd := []models.EventNode{item(1, nil, "A", "lost"), item(2, nil, "B", models.StatusOK)}
	assert.Equal(t, Progress{Total: 2, OK: 1, Pending: 1, Percent: 50}, Summarize(odd))
}

func TestSummarizeFloorsPercent(t *testing.T) {
	var nodes []models.EventNode
	for i := 1; i <= 100; i++ {
		status := ""
		if i <= 29 {
			status = models.StatusOK
		}
		nodes = append(nodes, item(i, nil, "x", status))
	}
	assert.Equal(t, 29, Summarize(nodes).Percent)
}

type memoryNodes struct {
	nodes  []models.EventNode
	failAt int
}

func (m *memoryNodes) CreateNode(n *models.EventNode) (int, error) {
	if m.failAt > 0 && len(m.nodes)+1 == m.failAt {
		return 0, errors.New("disk full")
	}
	n.ID = len(m.nodes) + 100
	m.nodes = append(m.nodes, *n)
	return n.ID, nil
}

type memoryTemplates []models.MaterialTemplate

func (m memoryTemplates) TemplateSubtree(id int) ([]models.MaterialTemplate, error) {
	f := Index([]models.MaterialTemplate(m))
	root, ok := f.Subtree(id)
	if !ok {
		return nil, nil
	}
	var out []models.MaterialTemplate
	Walk([]*TreeNode[models.MaterialTemplate]{root}, func(n *TreeNode[models.MaterialTemplate], _ int) {
		out = append(out, n.Node)
	})
	return out, nil
}

func bagTemplates() memoryTemplates {
	return memoryTemplates{
		{ID: 1, Name: "Bag", NodeType: models.NodeContainer},
		{ID: 2, Name: "Tent", NodeType: models.NodeItem, ExpectedQty: intPtr(1), ParentID: intPtr(1)},
		{ID: 3, Name: "Poles", NodeType: models.NodeContainer, ParentID: intPtr(1)},
		{ID: 4, Name: "PoleA", NodeType: models.NodeItem, ParentID: intPtr(3)},
		{ID: 5, Name: "PoleB", NodeType: models.NodeItem, ParentID: intPtr(3)},
		{ID: 6, Name: "Stove", NodeType: models.NodeItem, ExpectedQty: intPtr(2)},
	}
}

func TestCloneTemplatesIsomorphic(t *testing.T) {
	store := &memoryNodes{}
	report, err := CloneTemplates(bagTemplates(), store, 7, []int{1, 404, 6})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 6}, report.Cloned)
	assert.Equal(t, []int{404}, report.Skipped)
	assert.Equal(t, 6, report.Nodes)
	require.Len(t, store.nodes, 6)

	for _, n := range store.nodes {
		assert.Equal(t, 7, n.EventID)
		assert.Empty(t, n.Status)
		assert.Empty(t, n.Comment)
	}

	templateRoots := BuildTree([]models.MaterialTemplate(bagTemplates()))
	eventRoots := BuildTree(store.nodes)
	require.Len(t, eventRoots, len(templateRoots))
	for i := range templateRoots {
		assertSameShape(t, templateRoots[i], eventRoots[i])
	}
}

func assertSameShape(t *testing.T, tpl *TreeNode[models.MaterialTemplate], ev *TreeNode[models.EventNode]) {
	t.Helper()
	assert.Equal(t, tpl.Node.Name, ev.Node.Name)
	assert.Equal(t, tpl.Node.NodeType, ev.Node.NodeType)
	assert.Equal(t, tpl.Node.ExpectedQty, ev.Node.ExpectedQty)
	require.Len(t, ev.Children, len(tpl.Children))
	for i := range tpl.Children {
		assertSameShape(t, tpl.Children[i], ev.Children[i])
	}
}

func TestCloneIsIndependentOfTemplate(t *testing.T) {
	templates := bagTemplates()
	store := &memoryNodes{}
	_, err := CloneTemplates(templates, store, 1, []int{1})
	require.NoError(t, err)

	*templates[1].ExpectedQty = 40
	templates[1].Name = "Renamed"
	assert.Equal(t, "Tent", store.nodes[1].Name)
	assert.Equal(t, 1, *store.nodes[1].ExpectedQty)
}

func TestCloneSubtreeOfNonRoot(t *testing.T) {
	store := &memoryNodes{}
	report, err := CloneTemplates(bagTemplates(), store, 1, []int{3})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Nodes)
	assert.Nil(t, store.nodes[0].ParentID, "cloned subtree becomes a root of the event")
}

func TestCloneStopsOnStoreError(t *testing.T) {
	store := &memoryNodes{failAt: 3}
	_, err := CloneTemplates(bagTemplates(), store, 1, []int{1})
	require.Error(t, err)
	assert.Len(t, store.nodes, 2)
}
