package validation

import (
	"regexp"
	"strings"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/model"
)

// draftOrderIDPattern matches client-generated placeholder order ids that
// must never be committed to order tables.
var draftOrderIDPattern = regexp.MustCompile(`^[A-Z0-9]+-\d{13,}-\d{3}$`)

// orderTables are the tables subject to the guarded order checks.
var orderTables = map[string]bool{
	"order_header":          true,
	"order_line":            true,
	"order_payment":         true,
	"order_status_log":      true,
	"order_line_status_log": true,
}

// Validator screens mutation requests before they reach a store.
type Validator struct {
	lockedTables map[string]bool
}

// NewValidator creates a validator. lockedTables names tables that reject
// every mutation regardless of action.
func NewValidator(lockedTables []string) *Validator {
	locked := make(map[string]bool, len(lockedTables))
	for _, table := range lockedTables {
		locked[strings.ToLower(table)] = true
	}
	return &Validator{lockedTables: locked}
}

// ValidateTenantID rejects empty ids and ids carrying the reserved
// key separator.
func (v *Validator) ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.ValidationFailed("tenant id must not be empty")
	}
	if strings.Contains(tenantID, ":") {
		return errors.ValidationFailed("tenant id must not contain ':'")
	}
	return nil
}

// ValidateMutation runs the shape checks that don't need the requested
// table resolved: ids present, action known, payload supplied.
func (v *Validator) ValidateMutation(tenantID, moduleID, table string, action model.Action, rec model.Record) error {
	if err := v.ValidateTenantID(tenantID); err != nil {
		return err
	}
	if strings.TrimSpace(moduleID) == "" {
		return errors.ValidationFailed("module id must not be empty")
	}
	if strings.TrimSpace(table) == "" {
		return errors.ValidationFailed("table must not be empty")
	}
	if !action.Known() {
		return errors.UnknownAction(string(action))
	}
	if action.Mutating() && rec == nil {
		return errors.ValidationFailed("record payload is required for " + string(action))
	}
	return nil
}

// CheckTableMutable rejects mutations against locked tables. Call with the
// canonical table name so aliases can't slip past the lock.
func (v *Validator) CheckTableMutable(table string) error {
	if v.lockedTables[strings.ToLower(table)] {
		return errors.TableNotAllowed(table, "table is locked for direct mutation")
	}
	return nil
}

// CheckGuarded enforces the order-table integrity rules: draft ids must be
// finalized first, and order headers need a shift reference. Expects the
// canonical table name.
func (v *Validator) CheckGuarded(table string, action model.Action, rec model.Record) error {
	if !action.Mutating() || rec == nil {
		return nil
	}
	lower := strings.ToLower(table)
	if !orderTables[lower] {
		return nil
	}
	if id := orderReference(rec); id != "" && draftOrderIDPattern.MatchString(strings.ToUpper(id)) {
		return errors.TableNotAllowed(table, "draft order id must be finalized before commit")
	}
	if lower == "order_header" && !hasShiftReference(rec) {
		return errors.ValidationFailed("order_header requires a shift reference")
	}
	return nil
}

// orderReference finds the order id a record points at: line-level tables
// carry it as orderId/order_id, the header as its own id.
func orderReference(rec model.Record) string {
	for _, key := range []string{"orderId", "order_id", "id"} {
		if value, ok := rec[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func hasShiftReference(rec model.Record) bool {
	for _, key := range []string{"shiftId", "shift_id"} {
		if value, ok := rec[key].(string); ok && strings.TrimSpace(value) != "" {
			return true
		}
	}
	if meta, ok := rec["metadata"].(map[string]interface{}); ok {
		for _, key := range []string{"shiftId", "shift_id"} {
			if value, ok := meta[key].(string); ok && strings.TrimSpace(value) != "" {
				return true
			}
		}
	}
	return false
}
