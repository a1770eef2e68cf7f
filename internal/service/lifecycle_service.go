package service

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/metrics"
	"github.com/wareline/branchstore/internal/model"
	"github.com/wareline/branchstore/internal/store"
)

// LifecycleManager owns the cache of active stores. It is the only
// component allowed to hydrate a store from disk or persist one back.
// Stores are cached for the life of the process and never evicted under
// normal operation.
type LifecycleManager struct {
	layout        Layout
	schemas       *SchemaService
	seeds         *SeedService
	tenantModules func(tenantID string) []string
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu       sync.Mutex
	stores   map[string]*store.TableStore
	hydrates map[string]*sync.Mutex
}

// StoreKey builds the cache key for a (tenant, module) pair.
func StoreKey(tenantID, moduleID string) string {
	return tenantID + "::" + moduleID
}

// NewLifecycleManager creates a lifecycle manager
func NewLifecycleManager(
	layout Layout,
	schemas *SchemaService,
	seeds *SeedService,
	tenantModules func(tenantID string) []string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *LifecycleManager {
	return &LifecycleManager{
		layout:        layout,
		schemas:       schemas,
		seeds:         seeds,
		tenantModules: tenantModules,
		metrics:       m,
		logger:        logger,
		stores:        make(map[string]*store.TableStore),
		hydrates:      make(map[string]*sync.Mutex),
	}
}

// EnsureStore returns the cached store for a pair, hydrating one on first
// access. Concurrent first accesses for the same pair converge on a single
// hydrated instance; hydration failure leaves nothing cached.
func (m *LifecycleManager) EnsureStore(ctx context.Context, tenantID, moduleID string) (*store.TableStore, error) {
	key := StoreKey(tenantID, moduleID)

	m.mu.Lock()
	if st, ok := m.stores[key]; ok {
		m.mu.Unlock()
		return st, nil
	}
	lock, ok := m.hydrates[key]
	if !ok {
		lock = &sync.Mutex{}
		m.hydrates[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// A concurrent hydration may have won while we waited.
	m.mu.Lock()
	if st, ok := m.stores[key]; ok {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	st, err := m.hydrate(ctx, tenantID, moduleID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stores[key] = st
	active := len(m.stores)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveStores.Set(float64(active))
	}
	m.logger.Info("Hydrated module store",
		zap.String("tenant_id", tenantID),
		zap.String("module_id", moduleID),
		zap.Int64("version", st.Version()))
	return st, nil
}

// hydrate builds a store from schema, seed, and the last snapshot.
// Snapshot contents win over seed data for any table present in both.
func (m *LifecycleManager) hydrate(ctx context.Context, tenantID, moduleID string) (*store.TableStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.layout.EnsureModuleLayout(tenantID, moduleID); err != nil {
		return nil, errors.HydrationFailed(tenantID, moduleID, err)
	}

	schema, err := m.schemas.LoadSchema(tenantID, moduleID)
	if err != nil {
		return nil, err
	}

	st := store.New(tenantID, moduleID, schema)

	seed, err := m.seeds.LoadSeed(tenantID, moduleID)
	if err != nil {
		return nil, errors.HydrationFailed(tenantID, moduleID, err)
	}
	if seed != nil {
		for name, rows := range seed.Tables {
			st.SeedTable(name, rows)
		}
	}

	var snap model.StoreSnapshot
	found, err := readJSONFile(m.layout.SnapshotPath(tenantID, moduleID), &snap)
	if err != nil {
		return nil, errors.HydrationFailed(tenantID, moduleID, err)
	}
	if found {
		st.LoadSnapshot(&snap)
		return st, nil
	}

	// First hydration for this pair: write the initial snapshot so the
	// pair exists on disk even before its first mutation.
	if err := m.Persist(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Persist serializes the store and overwrites its snapshot file. The
// derived total-record counter is recomputed as part of the same write.
// This is the only durability mechanism for store state across restarts.
func (m *LifecycleManager) Persist(ctx context.Context, st *store.TableStore) error {
	start := time.Now()
	st.SetMeta("counter", st.TotalRecords())
	snap := st.Snapshot()
	path := m.layout.SnapshotPath(st.TenantID(), st.ModuleID())
	if err := writeJSONFile(path, snap); err != nil {
		return errors.PersistenceFailed("failed to persist store snapshot", err).
			WithDetail("tenant_id", st.TenantID()).
			WithDetail("module_id", st.ModuleID())
	}
	if m.metrics != nil {
		m.metrics.PersistsTotal.Inc()
		m.metrics.PersistDuration.Observe(time.Since(start).Seconds())
	}
	m.logger.Debug("Persisted module store",
		zap.String("tenant_id", st.TenantID()),
		zap.String("module_id", st.ModuleID()),
		zap.Int64("version", snap.Version))
	return nil
}

// Archive moves the current snapshot aside to a timestamped history file.
// Returns "" when no snapshot exists. Falls back to copy-then-delete when
// rename crosses a filesystem boundary.
func (m *LifecycleManager) Archive(ctx context.Context, tenantID, moduleID string) (string, error) {
	src := m.layout.SnapshotPath(tenantID, moduleID)
	if !fileExists(src) {
		return "", nil
	}
	timestamp := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339Nano))
	target := m.layout.ArchivePath(tenantID, moduleID, timestamp)
	if err := os.MkdirAll(m.layout.HistoryDir(tenantID, moduleID), 0755); err != nil {
		return "", errors.PersistenceFailed("failed to create history directory", err)
	}
	if err := os.Rename(src, target); err != nil {
		if copyErr := copyFile(src, target); copyErr != nil {
			return "", errors.PersistenceFailed("failed to archive store snapshot", copyErr).
				WithDetail("tenant_id", tenantID).
				WithDetail("module_id", moduleID)
		}
		os.Remove(src)
	}
	m.logger.Info("Archived module snapshot",
		zap.String("tenant_id", tenantID),
		zap.String("module_id", moduleID),
		zap.String("target", target))
	return target, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ActiveStores returns all currently hydrated stores.
func (m *LifecycleManager) ActiveStores() []*store.TableStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.TableStore, 0, len(m.stores))
	for _, st := range m.stores {
		out = append(out, st)
	}
	return out
}

// EnsureTenantModules hydrates every module configured for a tenant.
// Individual hydration failures are logged and skipped so one broken
// module does not block the rest of the tenant.
func (m *LifecycleManager) EnsureTenantModules(ctx context.Context, tenantID string) []*store.TableStore {
	var stores []*store.TableStore
	for _, moduleID := range m.tenantModules(tenantID) {
		st, err := m.EnsureStore(ctx, tenantID, moduleID)
		if err != nil {
			m.logger.Warn("Failed to ensure module store",
				zap.String("tenant_id", tenantID),
				zap.String("module_id", moduleID),
				zap.Error(err))
			continue
		}
		stores = append(stores, st)
	}
	return stores
}

// HydrateFromDisk walks the branches directory at boot and warms every
// known (tenant, module) store that already has on-disk state.
func (m *LifecycleManager) HydrateFromDisk(ctx context.Context) {
	tenantEntries, err := os.ReadDir(m.layout.BranchesDir)
	if err != nil {
		return
	}
	for _, tenantEntry := range tenantEntries {
		if !tenantEntry.IsDir() {
			continue
		}
		tenantID := unescapeID(tenantEntry.Name())
		modulesDir := filepath.Join(m.layout.TenantDir(tenantID), "modules")
		moduleEntries, err := os.ReadDir(modulesDir)
		if err != nil {
			continue
		}
		for _, moduleEntry := range moduleEntries {
			if !moduleEntry.IsDir() {
				continue
			}
			moduleID := unescapeID(moduleEntry.Name())
			if !m.schemas.ModuleKnown(moduleID) {
				m.logger.Warn("Skipping module not present in configuration",
					zap.String("tenant_id", tenantID),
					zap.String("module_id", moduleID))
				continue
			}
			if _, err := m.EnsureStore(ctx, tenantID, moduleID); err != nil {
				m.logger.Warn("Failed to hydrate module from disk",
					zap.String("tenant_id", tenantID),
					zap.String("module_id", moduleID),
					zap.Error(err))
			}
		}
	}
}

func unescapeID(name string) string {
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// ModuleSummary describes one hydrated store for tenant listings.
type ModuleSummary struct {
	ModuleID string                 `json:"moduleId"`
	Version  int64                  `json:"version"`
	Meta     map[string]interface{} `json:"meta"`
}

// TenantSummary lists the hydrated modules of one tenant.
type TenantSummary struct {
	TenantID string          `json:"tenantId"`
	Modules  []ModuleSummary `json:"modules"`
}

// TenantSummaries reports every hydrated store grouped by tenant.
func (m *LifecycleManager) TenantSummaries() []TenantSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	grouped := make(map[string][]ModuleSummary)
	for _, st := range m.stores {
		grouped[st.TenantID()] = append(grouped[st.TenantID()], ModuleSummary{
			ModuleID: st.ModuleID(),
			Version:  st.Version(),
			Meta:     st.Meta(),
		})
	}
	out := make([]TenantSummary, 0, len(grouped))
	for tenantID, modules := range grouped {
		out = append(out, TenantSummary{TenantID: tenantID, Modules: modules})
	}
	return out
}

// BuildTenantSnapshot ensures and snapshots every module configured for a
// tenant, for full-state sync to a connecting client.
func (m *LifecycleManager) BuildTenantSnapshot(ctx context.Context, tenantID string) map[string]*model.StoreSnapshot {
	out := make(map[string]*model.StoreSnapshot)
	for _, st := range m.EnsureTenantModules(ctx, tenantID) {
		out[st.ModuleID()] = st.Snapshot()
	}
	return out
}
