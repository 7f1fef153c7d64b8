package checklist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"verifmatos/internal/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const MaxNameLength = 120

// Quantity is an optional expected quantity. Numeric strings are accepted;
// anything else decodes to no quantity.
type Quantity struct {
	n *int
}

func NewQuantity(v *int) Quantity {
	return Quantity{n: copyInt(v)}
}

func (q Quantity) Int() *int {
	return copyInt(q.n)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.n == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(*q.n)), nil
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.n = parseQuantity(raw)
	return nil
}

func (q Quantity) MarshalYAML() (interface{}, error) {
	if q.n == nil {
		return nil, nil
	}
	return *q.n, nil
}

func (q *Quantity) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	q.n = parseQuantity(raw)
	return nil
}

func parseQuantity(raw interface{}) *int {
	var v int
	switch x := raw.(type) {
	case int:
		v = x
	case float64:
		if x != float64(int(x)) {
			return nil
		}
		v = int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		v = n
	default:
		return nil
	}
	return &v
}

// Draft is a template tree as submitted by the wizard or a bulk import, and
// as produced by an export. `node_type` is accepted as an alias of `type`.
type Draft struct {
	Name     string          `json:"name" yaml:"name"`
	Type     models.NodeType `json:"type,omitempty" yaml:"type,omitempty"`
	NodeType models.NodeType `json:"node_type,omitempty" yaml:"node_type,omitempty"`
	Qty      Quantity        `json:"qty" yaml:"qty"`
	Children []Draft         `json:"children" yaml:"children"`
}

// Normalize trims names, resolves the type alias (container by default) and
// drops quantities from containers, recursively.
func (d *Draft) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	if d.Type == "" {
		d.Type = d.NodeType
	}
	if d.Type == "" {
		d.Type = models.NodeContainer
	}
	d.NodeType = ""
	if d.Type == models.NodeContainer {
		d.Qty = Quantity{}
	}
	for i := range d.Children {
		d.Children[i].Normalize()
	}
}

// Validate checks the whole tree. Call Normalize first.
func (d Draft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.RuneLength(1, MaxNameLength)),
		validation.Field(&d.Type,
			validation.Required,
			validation.In(models.NodeContainer, models.NodeItem).Error("must be container or item"),
		),
		validation.Field(&d.Qty, validation.By(nonNegativeQuantity)),
		validation.Field(&d.Children,
			validation.When(d.Type == models.NodeItem, validation.Empty.Error("an item cannot contain children")),
		),
	)
}

// ValidateRoot applies the extra rule for a tree root: a container root must
// hold at least one element.
func (d Draft) ValidateRoot() error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Type == models.NodeContainer && len(d.Children) == 0 {
		return errors.New("add at least one element to the container")
	}
	return nil
}

// Size is the number of nodes in the draft tree.
func (d Draft) Size() int {
	n := 1
	for _, c := range d.Children {
		n += c.Size()
	}
	return n
}

func nonNegativeQuantity(value interface{}) error {
	q, ok := value.(Quantity)
	if !ok || q.n == nil {
		return nil
	}
	if *q.n < 0 {
		return errors.New("must be zero or more")
	}
	return nil
}

// TemplateCreator persists one template and returns its id.
type TemplateCreator interface {
	CreateTemplate(t *models.MaterialTemplate) (int, error)
}

// Materialize creates template rows for a validated draft, parents first,
// and returns the id of the draft root and the number of rows created.
func Materialize(store TemplateCreator, d Draft, parentID *int) (int, int, error) {
	t := &models.MaterialTemplate{
		Name:     d.Name,
		NodeType: d.Type,
		ParentID: copyInt(parentID),
	}
	if d.Type == models.NodeItem {
		t.ExpectedQty = d.Qty.Int()
	}

	id, err := store.CreateTemplate(t)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create template %q: %w", d.Name, err)
	}

	created := 1
	for _, child := range d.Children {
		_, n, err := Materialize(store, child, &id)
		created += n
		if err != nil {
			return id, created, err
		}
	}
	return id, created, nil
}

// DraftFromTree converts a materialized template tree back into a draft.
func DraftFromTree(node *TreeNode[models.MaterialTemplate]) Draft {
	d := Draft{
		Name:     node.Node.Name,
		Type:     node.Node.NodeType,
		Qty:      NewQuantity(node.Node.ExpectedQty),
		Children: make([]Draft, 0, len(node.Children)),
	}
	for _, child := range node.Children {
		d.Children = append(d.Children, DraftFromTree(child))
	}
	return d
}

// ImportPayload is the bulk import/export document.
type ImportPayload struct {
	Parents []Draft `json:"parents" yaml:"parents"`
}

// Prepare normalizes and validates every parent before anything is created.
func (p *ImportPayload) Prepare() error {
	if len(p.Parents) == 0 {
		return errors.New("no parent to import")
	}
	for i := range p.Parents {
		p.Parents[i].Normalize()
		if err := p.Parents[i].Validate(); err != nil {
			return fmt.Errorf("parent %d: %w", i+1, err)
		}
	}
	return nil
}

// WizardPayload creates a root tree, or replaces one when RootID is set.
// `bag` is accepted in place of `root`.
type WizardPayload struct {
	Root   *Draft `json:"root" yaml:"root"`
	Bag    *Draft `json:"bag" yaml:"bag"`
	RootID *int   `json:"root_id" yaml:"root_id"`
}

// Draft returns the normalized and validated root draft.
func (p *WizardPayload) Draft() (Draft, error) {
	root := p.Root
	if root == nil || (root.Name == "" && len(root.Children) == 0) {
		root = p.Bag
	}
	if root == nil {
		return Draft{}, errors.New("the parent name is required")
	}
	d := *root
	d.Normalize()
	if err := d.ValidateRoot(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Decode parses a JSON or YAML document into v. JSON is detected by its
// leading brace or bracket.
func Decode(data []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty payload")
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, v); err != nil {
			return fmt.Errorf("invalid JSON payload: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid YAML payload: %w", err)
	}
	return nil
}
