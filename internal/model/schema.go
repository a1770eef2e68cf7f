package model

import "strings"

// TableDef describes one table in a module schema.
type TableDef struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// ModuleSchema is the schema definition for a module: the set of tables a
// store bound to that module accepts.
type ModuleSchema struct {
	ModuleID string     `json:"moduleId,omitempty"`
	Tables   []TableDef `json:"tables"`
}

// TableNames returns the canonical table names in definition order.
func (s *ModuleSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}

// Canonical resolves a requested table name against the schema, matching
// case-insensitively and through declared aliases. Returns "" when the
// schema does not know the table.
func (s *ModuleSchema) Canonical(requested string) string {
	needle := strings.ToLower(strings.TrimSpace(requested))
	if needle == "" {
		return ""
	}
	for _, t := range s.Tables {
		if strings.ToLower(t.Name) == needle {
			return t.Name
		}
		for _, alias := range t.Aliases {
			if strings.ToLower(alias) == needle {
				return t.Name
			}
		}
	}
	return ""
}

// SeedData is tenant seed content: initial table rows merged into a store
// on first hydration.
type SeedData struct {
	Version int64               `json:"version,omitempty"`
	Tables  map[string][]Record `json:"tables"`
}
