package service

import (
	"net/url"
	"os"
	"path/filepath"
)

// Layout resolves the on-disk location of every per-tenant artifact.
// Tenant ids are escaped so arbitrary ids stay inside the branches dir.
//
//	<branches>/<tenant>/sequence-state.json
//	<branches>/<tenant>/shared-seed.json
//	<branches>/<tenant>/modules/<module>/live/data.json
//	<branches>/<tenant>/modules/<module>/live/events.log
//	<branches>/<tenant>/modules/<module>/live/events-meta.json
//	<branches>/<tenant>/modules/<module>/seeds/initial.json
//	<branches>/<tenant>/modules/<module>/history/<timestamp>.json
//	<branches>/<tenant>/modules/<module>/history/events/<segment>.log
type Layout struct {
	BranchesDir string
	SchemasDir  string
	SeedsDir    string
}

func escapeID(id string) string {
	return url.PathEscape(id)
}

// TenantDir returns the root directory for a tenant.
func (l Layout) TenantDir(tenantID string) string {
	return filepath.Join(l.BranchesDir, escapeID(tenantID))
}

// ModuleDir returns the directory for one (tenant, module) pair.
func (l Layout) ModuleDir(tenantID, moduleID string) string {
	return filepath.Join(l.TenantDir(tenantID), "modules", escapeID(moduleID))
}

// SnapshotPath returns the live snapshot file for a store.
func (l Layout) SnapshotPath(tenantID, moduleID string) string {
	return filepath.Join(l.ModuleDir(tenantID, moduleID), "live", "data.json")
}

// HistoryDir returns where archived snapshots for a store live.
func (l Layout) HistoryDir(tenantID, moduleID string) string {
	return filepath.Join(l.ModuleDir(tenantID, moduleID), "history")
}

// ArchivePath returns the target path for an archived snapshot.
func (l Layout) ArchivePath(tenantID, moduleID, timestamp string) string {
	return filepath.Join(l.HistoryDir(tenantID, moduleID), timestamp+".json")
}

// OpenSegmentPath returns the currently-open journal segment for a store.
func (l Layout) OpenSegmentPath(tenantID, moduleID string) string {
	return filepath.Join(l.ModuleDir(tenantID, moduleID), "live", "events.log")
}

// JournalMetaPath returns the journal bookkeeping file for a store.
func (l Layout) JournalMetaPath(tenantID, moduleID string) string {
	return filepath.Join(l.ModuleDir(tenantID, moduleID), "live", "events-meta.json")
}

// ClosedSegmentsDir returns where rotated journal segments accumulate until
// the archive cycle uploads them.
func (l Layout) ClosedSegmentsDir(tenantID, moduleID string) string {
	return filepath.Join(l.HistoryDir(tenantID, moduleID), "events")
}

// TenantSeedPath returns the tenant-specific seed file for a module.
func (l Layout) TenantSeedPath(tenantID, moduleID string) string {
	return filepath.Join(l.ModuleDir(tenantID, moduleID), "seeds", "initial.json")
}

// SharedSeedPath returns the tenant-wide seed shared by all of its modules.
func (l Layout) SharedSeedPath(tenantID string) string {
	return filepath.Join(l.TenantDir(tenantID), "shared-seed.json")
}

// CentralSeedPath returns the deployment-wide fallback seed for a module.
func (l Layout) CentralSeedPath(moduleID string) string {
	return filepath.Join(l.SeedsDir, escapeID(moduleID)+".json")
}

// SchemaPath returns the central schema definition for a module.
func (l Layout) SchemaPath(moduleID string) string {
	return filepath.Join(l.SchemasDir, escapeID(moduleID)+".json")
}

// SequenceStatePath returns the per-tenant sequence counter file.
func (l Layout) SequenceStatePath(tenantID string) string {
	return filepath.Join(l.TenantDir(tenantID), "sequence-state.json")
}

// EnsureModuleLayout creates the directory skeleton for a store.
func (l Layout) EnsureModuleLayout(tenantID, moduleID string) error {
	dirs := []string{
		filepath.Join(l.ModuleDir(tenantID, moduleID), "live"),
		l.HistoryDir(tenantID, moduleID),
		l.ClosedSegmentsDir(tenantID, moduleID),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
