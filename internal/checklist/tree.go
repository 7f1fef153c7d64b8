package checklist

import (
	"verifmatos/internal/models"
)

// Node is a flat row with a parent reference. Both material templates and
// event nodes satisfy it.
type Node interface {
	NodeID() int
	ParentNodeID() *int
	Kind() models.NodeType
	StoredStatus() string
}

// TreeNode is one materialized node with its derived state.
type TreeNode[N Node] struct {
	Node     N              `json:"node"`
	Children []*TreeNode[N] `json:"children"`
	Result
}

// Forest indexes a flat node set by id and by parent. Payloads stay in the
// original slice; the maps only hold positions into it.
type Forest[N Node] struct {
	nodes    []N
	byID     map[int]int
	children map[int][]int
	roots    []int
}

// Index groups nodes by parent in one pass, keeping input order among
// siblings. Nodes whose parent is not in the set are unreachable from the
// roots and never materialized.
func Index[N Node](nodes []N) *Forest[N] {
	f := &Forest[N]{
		nodes:    nodes,
		byID:     make(map[int]int, len(nodes)),
		children: make(map[int][]int),
	}
	for i, n := range nodes {
		if _, dup := f.byID[n.NodeID()]; !dup {
			f.byID[n.NodeID()] = i
		}
		if parent := n.ParentNodeID(); parent != nil {
			f.children[*parent] = append(f.children[*parent], i)
		} else {
			f.roots = append(f.roots, i)
		}
	}
	return f
}

// Len is the number of indexed nodes.
func (f *Forest[N]) Len() int {
	return len(f.nodes)
}

// Lookup returns the node with the given id.
func (f *Forest[N]) Lookup(id int) (N, bool) {
	i, ok := f.byID[id]
	if !ok {
		var zero N
		return zero, false
	}
	return f.nodes[i], true
}

// Build materializes every root tree, children before parents, deriving
// status and counts on the way up.
func (f *Forest[N]) Build() []*TreeNode[N] {
	visited := make([]bool, len(f.nodes))
	return f.build(f.roots, visited)
}

// Subtree materializes the tree rooted at id, whatever its depth in the
// forest.
func (f *Forest[N]) Subtree(id int) (*TreeNode[N], bool) {
	i, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	visited := make([]bool, len(f.nodes))
	return f.materialize(i, visited), true
}

func (f *Forest[N]) build(positions []int, visited []bool) []*TreeNode[N] {
	out := make([]*TreeNode[N], 0, len(positions))
	for _, i := range positions {
		// duplicate ids would otherwise loop forever
		if visited[i] {
			continue
		}
		out = append(out, f.materialize(i, visited))
	}
	return out
}

func (f *Forest[N]) materialize(i int, visited []bool) *TreeNode[N] {
	visited[i] = true
	n := f.nodes[i]

	children := f.build(f.children[n.NodeID()], visited)
	results := make([]Result, len(children))
	for j, child := range children {
		results[j] = child.Result
	}

	return &TreeNode[N]{
		Node:     n,
		Children: children,
		Result:   Derive(n.Kind(), n.StoredStatus(), results),
	}
}

// BuildTree is the one-shot form of Index(nodes).Build().
func BuildTree[N Node](nodes []N) []*TreeNode[N] {
	return Index(nodes).Build()
}

// Walk visits a tree depth-first, parents before children.
func Walk[N Node](roots []*TreeNode[N], fn func(node *TreeNode[N], depth int)) {
	var visit func(nodes []*TreeNode[N], depth int)
	visit = func(nodes []*TreeNode[N], depth int) {
		for _, n := range nodes {
			fn(n, depth)
			visit(n.Children, depth+1)
		}
	}
	visit(roots, 0)
}
