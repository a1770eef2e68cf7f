package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/model"
)

// SeedService resolves the seed data for a (tenant, module) pair.
// Resolution order: tenant-specific module seed, falling back to the central
// module seed, overlaid on the tenant-wide shared seed. Tenant-specific
// entries win on conflicting table names.
type SeedService struct {
	layout Layout
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*seedCacheEntry
}

type seedCacheEntry struct {
	stamp string
	seed  *model.SeedData
}

// NewSeedService creates a seed service
func NewSeedService(layout Layout, logger *zap.Logger) *SeedService {
	return &SeedService{
		layout: layout,
		logger: logger,
		cache:  make(map[string]*seedCacheEntry),
	}
}

// LoadSeed returns the merged seed for a pair, or nil when no seed exists.
func (s *SeedService) LoadSeed(tenantID, moduleID string) (*model.SeedData, error) {
	modulePath := s.layout.TenantSeedPath(tenantID, moduleID)
	if fileMtime(modulePath) == 0 {
		modulePath = s.layout.CentralSeedPath(moduleID)
	}
	sharedPath := s.layout.SharedSeedPath(tenantID)

	stamp := fmt.Sprintf("%d|%d", fileMtime(modulePath), fileMtime(sharedPath))
	cacheKey := tenantID + "::" + moduleID

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[cacheKey]; ok && cached.stamp == stamp {
		return cached.seed, nil
	}

	moduleSeed, err := readSeedFile(modulePath)
	if err != nil {
		return nil, err
	}
	sharedSeed, err := readSeedFile(sharedPath)
	if err != nil {
		return nil, err
	}

	merged := mergeSeeds(sharedSeed, moduleSeed)
	s.cache[cacheKey] = &seedCacheEntry{stamp: stamp, seed: merged}
	if merged != nil {
		s.logger.Debug("Loaded seed data",
			zap.String("tenant_id", tenantID),
			zap.String("module_id", moduleID),
			zap.Int("tables", len(merged.Tables)))
	}
	return merged, nil
}

func readSeedFile(path string) (*model.SeedData, error) {
	var seed model.SeedData
	found, err := readJSONFile(path, &seed)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &seed, nil
}

// mergeSeeds overlays the module seed on the shared seed; module tables win.
func mergeSeeds(shared, module *model.SeedData) *model.SeedData {
	if shared == nil && module == nil {
		return nil
	}
	merged := &model.SeedData{Version: 1, Tables: make(map[string][]model.Record)}
	if shared != nil {
		for name, rows := range shared.Tables {
			merged.Tables[name] = rows
		}
	}
	if module != nil {
		if module.Version > 0 {
			merged.Version = module.Version
		}
		for name, rows := range module.Tables {
			merged.Tables[name] = rows
		}
	}
	if len(merged.Tables) == 0 {
		return nil
	}
	return merged
}
