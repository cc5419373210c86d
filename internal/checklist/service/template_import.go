package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"golang.org/x/text/encoding/simplifiedchinese"
	"gopkg.in/yaml.v3"
)

// ImportFile 模板导入文件
//
//	templates:
//	  - name: Daily forklift pre-use
//	    type: pre_run
//	    frequency: daily
//	    machine_code: FL-01
//	    activate: true
//	    sections:
//	      - id: s1
//	        title: Safety
//	        items:
//	          - {id: brakes, question: "Brakes OK?", type: yes_no, required: true, critical: true}
type ImportFile struct {
	Templates []ImportTemplate `yaml:"templates"`
}

// ImportTemplate is one template entry of an import file.
type ImportTemplate struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Type        string           `yaml:"type"`
	Frequency   *string          `yaml:"frequency"`
	MachineCode string           `yaml:"machine_code"`
	Activate    bool             `yaml:"activate"`
	Sections    []engine.Section `yaml:"sections"`
}

// ImportResult 导入结果
type ImportResult struct {
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Unchanged int                `json:"unchanged"`
	Templates []ImportedTemplate `json:"templates"`
}

type ImportedTemplate struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	Version int                   `json:"version"`
	Status  engine.TemplateStatus `json:"status"`
	Action  string                `json:"action"` // created/updated/unchanged
}

// ParseImportFile decodes a YAML import file.
func ParseImportFile(data []byte) (*ImportFile, error) {
	data, err := decodeImport(data)
	if err != nil {
		return nil, err
	}

	var f ImportFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidDefinition, err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("%w: import file has no templates", engine.ErrInvalidDefinition)
	}
	return &f, nil
}

// decodeImport strips a UTF-8 BOM. Files that are not valid UTF-8 are read as
// GBK, which is what spreadsheet tools on the shop floor save by default.
func decodeImport(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	// GBK → UTF-8
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: import file is neither UTF-8 nor GBK", engine.ErrInvalidDefinition)
	}
	return decoded, nil
}

type preparedImport struct {
	entry     ImportTemplate
	machineID *string
	def       engine.Definition
}

// ImportTemplates 导入模板. Templates are matched by name: a new name creates a
// draft, a known name is updated in place. Every entry is validated before
// anything is written.
func (s *TemplateService) ImportTemplates(ctx context.Context, userID string, data []byte) (*ImportResult, error) {
	file, err := ParseImportFile(data)
	if err != nil {
		return nil, err
	}

	prepared := make([]preparedImport, 0, len(file.Templates))
	seen := make(map[string]bool)
	for i, entry := range file.Templates {
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: templates[%d] has no name", engine.ErrInvalidDefinition, i)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("%w: duplicate template name %q", engine.ErrInvalidDefinition, entry.Name)
		}
		seen[entry.Name] = true

		p, err := s.prepareImport(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("import template %q: %w", entry.Name, err)
		}
		prepared = append(prepared, p)
	}

	result := &ImportResult{Templates: make([]ImportedTemplate, 0, len(prepared))}
	for _, p := range prepared {
		item, err := s.importOne(ctx, userID, p)
		if err != nil {
			return result, fmt.Errorf("import template %q: %w", p.entry.Name, err)
		}
		switch item.Action {
		case "created":
			result.Created++
		case "updated":
			result.Updated++
		default:
			result.Unchanged++
		}
		result.Templates = append(result.Templates, *item)
	}
	return result, nil
}

func (s *TemplateService) prepareImport(ctx context.Context, entry ImportTemplate) (preparedImport, error) {
	p := preparedImport{entry: entry}
	if _, err := parseTemplateType(entry.Type); err != nil {
		return p, err
	}
	if _, err := engine.ParseFrequency(entry.Frequency); err != nil {
		return p, err
	}
	if code := strings.TrimSpace(entry.MachineCode); code != "" {
		m, err := s.machineRepo.FindByCode(ctx, code)
		if err != nil {
			return p, fmt.Errorf("machine %s: %w", code, err)
		}
		p.machineID = &m.ID
	}

	p.def = engine.Definition{Sections: entry.Sections}
	p.def.Normalize(newDefinitionID)
	if err := p.def.Validate(); err != nil {
		return p, err
	}
	if entry.Activate {
		if err := p.def.ValidateActivatable(); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (s *TemplateService) importOne(ctx context.Context, userID string, p preparedImport) (*ImportedTemplate, error) {
	existing, err := s.repo.FindByName(ctx, p.entry.Name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var tpl *entity.Template
	action := "created"
	if existing == nil {
		tpl, err = s.create(ctx, userID, p.entry.Name, p.entry.Description, p.entry.Type, p.machineID, p.entry.Frequency, p.def)
		if err != nil {
			return nil, err
		}
	} else {
		tpl, action, err = s.importUpdate(ctx, userID, existing, p)
		if err != nil {
			return nil, err
		}
	}

	if p.entry.Activate && tpl.Status == engine.TemplateStatusDraft {
		if tpl, err = s.changeStatus(ctx, tpl, engine.TemplateStatusActive, "activate", userID); err != nil {
			return nil, err
		}
		if action == "unchanged" {
			action = "updated"
		}
	}

	return &ImportedTemplate{ID: tpl.ID, Name: tpl.Name, Version: tpl.Version, Status: tpl.Status, Action: action}, nil
}

func (s *TemplateService) importUpdate(ctx context.Context, userID string, existing *entity.Template, p preparedImport) (*entity.Template, string, error) {
	machineID := ""
	if p.machineID != nil {
		machineID = *p.machineID
	}
	frequency := ""
	if p.entry.Frequency != nil {
		frequency = *p.entry.Frequency
	}
	req := &UpdateTemplateRequest{
		Description: &p.entry.Description,
		Type:        &p.entry.Type,
		MachineID:   &machineID,
		Frequency:   &frequency,
	}

	var def *engine.Definition
	same, err := sameDefinition(existing.Def(), p.def)
	if err != nil {
		return nil, "", err
	}
	if !same {
		def = &p.def
	}
	if def == nil && sameAttributes(existing, p) {
		return existing, "unchanged", nil
	}

	tpl, err := s.applyUpdate(ctx, existing, userID, req, def)
	if err != nil {
		return nil, "", err
	}
	return tpl, "updated", nil
}

func sameDefinition(a, b engine.Definition) (bool, error) {
	x, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(x, y), nil
}

func sameAttributes(t *entity.Template, p preparedImport) bool {
	if t.Description != p.entry.Description || string(t.Type) != strings.TrimSpace(p.entry.Type) {
		return false
	}
	if derefOr(t.MachineID) != derefOr(p.machineID) {
		return false
	}
	f, _ := engine.ParseFrequency(p.entry.Frequency)
	return derefOr(t.Frequency) == string(f)
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
