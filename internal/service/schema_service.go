package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/config"
	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/model"
)

// SchemaService loads and caches central module schema definitions.
// A schema is reloaded when the file on disk changes; a module whose
// schema lacks one of its configured required tables fails hydration.
type SchemaService struct {
	layout  Layout
	modules map[string]config.ModuleDef
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]*schemaCacheEntry
}

type schemaCacheEntry struct {
	schema *model.ModuleSchema
	mtime  int64
}

// NewSchemaService creates a schema service
func NewSchemaService(layout Layout, modules map[string]config.ModuleDef, logger *zap.Logger) *SchemaService {
	return &SchemaService{
		layout:  layout,
		modules: modules,
		logger:  logger,
		cache:   make(map[string]*schemaCacheEntry),
	}
}

// ModuleKnown reports whether the module is declared in configuration.
func (s *SchemaService) ModuleKnown(moduleID string) bool {
	_, ok := s.modules[moduleID]
	return ok
}

// LoadSchema returns the schema for a module, validated against the
// module's required tables for this tenant.
func (s *SchemaService) LoadSchema(tenantID, moduleID string) (*model.ModuleSchema, error) {
	def, ok := s.modules[moduleID]
	if !ok {
		return nil, errors.NewStoreError(errors.ErrCodeSchemaMissing,
			fmt.Sprintf("module %q not defined in configuration", moduleID), nil).
			WithDetail("module_id", moduleID)
	}

	path := s.layout.SchemaPath(moduleID)
	mtime := fileMtime(path)
	if mtime == 0 {
		return nil, errors.NewStoreError(errors.ErrCodeSchemaMissing,
			fmt.Sprintf("central schema for module %q not found", moduleID), nil).
			WithDetail("module_id", moduleID).
			WithDetail("path", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[moduleID]; ok && cached.mtime == mtime {
		if err := s.validateRequired(tenantID, moduleID, def, cached.schema); err != nil {
			return nil, err
		}
		return cached.schema, nil
	}

	var schema model.ModuleSchema
	if _, err := readJSONFile(path, &schema); err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeSchemaMissing,
			fmt.Sprintf("failed to load schema for module %q", moduleID), err).
			WithDetail("module_id", moduleID).
			WithDetail("path", path)
	}
	schema.ModuleID = moduleID

	if err := s.validateRequired(tenantID, moduleID, def, &schema); err != nil {
		return nil, err
	}

	s.cache[moduleID] = &schemaCacheEntry{schema: &schema, mtime: mtime}
	s.logger.Debug("Loaded module schema",
		zap.String("module_id", moduleID),
		zap.Int("tables", len(schema.Tables)))
	return &schema, nil
}

func (s *SchemaService) validateRequired(tenantID, moduleID string, def config.ModuleDef, schema *model.ModuleSchema) error {
	for _, required := range def.Tables {
		if schema.Canonical(required) == "" {
			return errors.SchemaMissing(tenantID, moduleID, required)
		}
	}
	return nil
}
