// Package engine holds the checklist execution and compliance rules: template
// schema, answer validation, run transitions, due-date scheduling and
// compliance classification. Everything here is pure; persistence and
// transport live in the repository, service and handler packages.
package engine

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// TemplateType 模板类型
type TemplateType string

const (
	TemplateTypePreRun      TemplateType = "pre_run"
	TemplateTypeFirstOff    TemplateType = "first_off"
	TemplateTypeShutdown    TemplateType = "shutdown"
	TemplateTypeMaintenance TemplateType = "maintenance"
	TemplateTypeSafety      TemplateType = "safety"
	TemplateTypeQuality     TemplateType = "quality"
)

// Valid reports whether t is one of the known template types.
func (t TemplateType) Valid() bool {
	switch t {
	case TemplateTypePreRun, TemplateTypeFirstOff, TemplateTypeShutdown,
		TemplateTypeMaintenance, TemplateTypeSafety, TemplateTypeQuality:
		return true
	}
	return false
}

// TemplateStatus 模板状态
type TemplateStatus string

const (
	TemplateStatusDraft      TemplateStatus = "draft"
	TemplateStatusActive     TemplateStatus = "active"
	TemplateStatusDeprecated TemplateStatus = "deprecated"
)

// ValidTemplateTransitions 模板状态流转
var ValidTemplateTransitions = map[TemplateStatus][]TemplateStatus{
	TemplateStatusDraft:  {TemplateStatusActive, TemplateStatusDeprecated},
	TemplateStatusActive: {TemplateStatusDeprecated},
}

// CanTransitionTemplate reports whether a template may move from one status to another.
func CanTransitionTemplate(from, to TemplateStatus) bool {
	for _, s := range ValidTemplateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ItemType 检查项类型
type ItemType string

const (
	ItemTypeYesNo   ItemType = "yes_no"
	ItemTypeNumeric ItemType = "numeric"
	ItemTypeText    ItemType = "text"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	return t == ItemTypeYesNo || t == ItemTypeNumeric || t == ItemTypeText
}

// Item is the canonical shape of a single checkable unit. Legacy field names
// are folded into it by UnmarshalJSON/UnmarshalYAML and never seen past the
// decoding boundary.
type Item struct {
	ID                string   `json:"id" yaml:"id"`
	Label             string   `json:"label" yaml:"label"`
	Type              ItemType `json:"type" yaml:"type"`
	Required          bool     `json:"required" yaml:"required"`
	Critical          bool     `json:"critical" yaml:"critical"`
	PhotoRequired     bool     `json:"photoRequired,omitempty" yaml:"photoRequired,omitempty"`
	Hint              string   `json:"hint,omitempty" yaml:"hint,omitempty"`
	MinValue          *float64 `json:"minValue,omitempty" yaml:"minValue,omitempty"`
	MaxValue          *float64 `json:"maxValue,omitempty" yaml:"maxValue,omitempty"`
	Unit              string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	ReferenceImageURL string   `json:"referenceImageUrl,omitempty" yaml:"referenceImageUrl,omitempty"`
}

// itemInput accepts both canonical and legacy field names.
type itemInput struct {
	ID                   string   `json:"id" yaml:"id"`
	Label                *string  `json:"label" yaml:"label"`
	Question             *string  `json:"question" yaml:"question"`
	Type                 ItemType `json:"type" yaml:"type"`
	Required             bool     `json:"required" yaml:"required"`
	Critical             bool     `json:"critical" yaml:"critical"`
	PhotoRequired        bool     `json:"photoRequired" yaml:"photoRequired"`
	Hint                 *string  `json:"hint" yaml:"hint"`
	Guidance             *string  `json:"guidance" yaml:"guidance"`
	MinValue             *float64 `json:"minValue" yaml:"minValue"`
	MinValueLegacy       *float64 `json:"min_value" yaml:"min_value"`
	MaxValue             *float64 `json:"maxValue" yaml:"maxValue"`
	MaxValueLegacy       *float64 `json:"max_value" yaml:"max_value"`
	Unit                 string   `json:"unit" yaml:"unit"`
	ReferenceImageURL    *string  `json:"referenceImageUrl" yaml:"referenceImageUrl"`
	ReferenceImageLegacy *string  `json:"reference_image_url" yaml:"reference_image_url"`
}

func (in itemInput) item() Item {
	return Item{
		ID:                in.ID,
		Label:             firstString(in.Label, in.Question),
		Type:              in.Type,
		Required:          in.Required,
		Critical:          in.Critical,
		PhotoRequired:     in.PhotoRequired,
		Hint:              firstString(in.Hint, in.Guidance),
		MinValue:          firstFloat(in.MinValue, in.MinValueLegacy),
		MaxValue:          firstFloat(in.MaxValue, in.MaxValueLegacy),
		Unit:              in.Unit,
		ReferenceImageURL: firstString(in.ReferenceImageURL, in.ReferenceImageLegacy),
	}
}

// UnmarshalJSON normalizes legacy aliases (question, guidance, min_value,
// max_value, reference_image_url). Canonical names win when both are sent.
func (it *Item) UnmarshalJSON(data []byte) error {
	var in itemInput
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*it = in.item()
	return nil
}

// UnmarshalYAML applies the same alias rules as UnmarshalJSON.
func (it *Item) UnmarshalYAML(value *yaml.Node) error {
	var in itemInput
	if err := value.Decode(&in); err != nil {
		return err
	}
	*it = in.item()
	return nil
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// HasBounds reports whether both numeric bounds are configured.
func (it Item) HasBounds() bool {
	return it.MinValue != nil && it.MaxValue != nil
}

// Section 检查分组
type Section struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Items       []Item `json:"items" yaml:"items"`
}

// Definition is the ordered section/item tree of a template.
type Definition struct {
	Sections []Section `json:"sections" yaml:"sections"`
}

// ParseDefinitionJSON decodes a wire-format definition. Both a bare section
// array and an object with a "sections" key are accepted.
func ParseDefinitionJSON(data []byte) (Definition, error) {
	var def Definition
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &def.Sections); err != nil {
			return Definition{}, invalidDefinition("%v", err)
		}
		return def, nil
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, invalidDefinition("%v", err)
	}
	return def, nil
}

// ParseDefinitionYAML decodes a definition authored as YAML.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, invalidDefinition("%v", err)
	}
	return def, nil
}

// Items flattens the definition in display order.
func (d Definition) Items() []Item {
	var items []Item
	for _, s := range d.Sections {
		items = append(items, s.Items...)
	}
	return items
}

// Item looks up an item by id.
func (d Definition) Item(id string) (Item, bool) {
	for _, s := range d.Sections {
		for _, it := range s.Items {
			if it.ID == id {
				return it, true
			}
		}
	}
	return Item{}, false
}

// ItemIDs returns every item id in display order.
func (d Definition) ItemIDs() []string {
	items := d.Items()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

// Normalize trims text fields, assigns ids to sections and items that arrived
// without one and drops numeric-only fields from non-numeric items.
func (d *Definition) Normalize(newID func() string) {
	if d.Sections == nil {
		d.Sections = []Section{}
	}
	for si := range d.Sections {
		s := &d.Sections[si]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = newID()
		}
		s.Title = strings.TrimSpace(s.Title)
		if s.Items == nil {
			s.Items = []Item{}
		}
		for ii := range s.Items {
			it := &s.Items[ii]
			it.ID = strings.TrimSpace(it.ID)
			if it.ID == "" {
				it.ID = newID()
			}
			it.Label = strings.TrimSpace(it.Label)
			it.Type = ItemType(strings.TrimSpace(string(it.Type)))
			if it.Type != ItemTypeNumeric {
				it.MinValue = nil
				it.MaxValue = nil
				it.Unit = ""
			}
		}
	}
}

// Validate checks structural rules that hold for every saved definition.
func (d Definition) Validate() error {
	sectionIDs := make(map[string]bool)
	itemIDs := make(map[string]bool)
	for _, s := range d.Sections {
		if s.ID == "" {
			return invalidDefinition("section id is required")
		}
		if sectionIDs[s.ID] {
			return invalidDefinition("duplicate section id %s", s.ID)
		}
		sectionIDs[s.ID] = true
		if s.Title == "" {
			return invalidDefinition("section %s has no title", s.ID)
		}
		for _, it := range s.Items {
			if it.ID == "" {
				return invalidDefinition("item id is required in section %s", s.ID)
			}
			if itemIDs[it.ID] {
				return invalidDefinition("duplicate item id %s", it.ID)
			}
			itemIDs[it.ID] = true
			if it.Label == "" {
				return invalidDefinition("item %s has no label", it.ID)
			}
			if !it.Type.Valid() {
				return invalidDefinition("item %s has unknown type %q", it.ID, it.Type)
			}
			if it.HasBounds() && *it.MinValue > *it.MaxValue {
				return invalidDefinition("item %s has minValue greater than maxValue", it.ID)
			}
		}
	}
	return nil
}

// ValidateActivatable enforces the active-template invariant: at least one
// section holding at least one item.
func (d Definition) ValidateActivatable() error {
	if err := d.Validate(); err != nil {
		return err
	}
	for _, s := range d.Sections {
		if len(s.Items) > 0 {
			return nil
		}
	}
	return invalidDefinition("an active template needs at least one section with at least one item")
}

// RemovedItemIDs lists ids present in prev but gone from next.
func RemovedItemIDs(prev, next Definition) []string {
	keep := make(map[string]bool)
	for _, id := range next.ItemIDs() {
		keep[id] = true
	}
	var removed []string
	for _, id := range prev.ItemIDs() {
		if !keep[id] {
			removed = append(removed, id)
		}
	}
	return removed
}

// CheckRetired rejects a definition that reuses an item id removed by an earlier edit.
func CheckRetired(d Definition, retired []string) error {
	if len(retired) == 0 {
		return nil
	}
	gone := make(map[string]bool, len(retired))
	for _, id := range retired {
		gone[id] = true
	}
	for _, id := range d.ItemIDs() {
		if gone[id] {
			return invalidDefinition("item id %s was retired and cannot be reused", id)
		}
	}
	return nil
}
