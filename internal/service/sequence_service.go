package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wareline/branchstore/internal/errors"
	"github.com/wareline/branchstore/internal/metrics"
)

// SequenceRule describes how values for one sequenced field are generated.
type SequenceRule struct {
	Start        int64  `json:"start"`
	Prefix       string `json:"prefix,omitempty"`
	Suffix       string `json:"suffix,omitempty"`
	Delimiter    string `json:"delimiter,omitempty"`
	Padding      int    `json:"padding,omitempty"`
	PadChar      string `json:"padChar,omitempty"`
	DateFormat   string `json:"dateFormat,omitempty"`
	DatePosition string `json:"datePosition,omitempty"`
	Reset        string `json:"reset,omitempty"`
	CounterField string `json:"counterField,omitempty"`
}

// sequenceRules is the on-disk rules document. Defaults apply to every
// tenant; the tenants section overrides per tenant.
type sequenceRules struct {
	Version  int                                          `json:"version"`
	Defaults map[string]map[string]map[string]SequenceRule `json:"defaults"`
	Tenants  map[string]map[string]map[string]map[string]SequenceRule `json:"tenants,omitempty"`
}

// sequenceState is a tenant's persisted counter file. Keys are
// "module:table:field", optionally suffixed with "::<dateKey>" for
// daily-resetting sequences.
type sequenceState struct {
	Counters map[string]int64 `json:"counters"`
	Created  map[string]bool  `json:"created,omitempty"`
}

// SequenceAllocator issues per-tenant formatted sequence values. Counter
// state is persisted before a value is handed out, so restarts never
// reissue a value that may already have been observed.
type SequenceAllocator struct {
	layout    Layout
	rulesPath string
	metrics   *metrics.Metrics
	logger    *zap.Logger

	rulesMu sync.Mutex
	rules   *sequenceRules

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
	now     func() time.Time
}

// NewSequenceAllocator creates a sequence allocator
func NewSequenceAllocator(layout Layout, rulesPath string, m *metrics.Metrics, logger *zap.Logger) *SequenceAllocator {
	return &SequenceAllocator{
		layout:    layout,
		rulesPath: rulesPath,
		metrics:   m,
		logger:    logger,
		tenants:   make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

func (a *SequenceAllocator) tenantLock(tenantID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		a.tenants[tenantID] = lock
	}
	return lock
}

func (a *SequenceAllocator) loadRules() (*sequenceRules, error) {
	a.rulesMu.Lock()
	defer a.rulesMu.Unlock()
	if a.rules != nil {
		return a.rules, nil
	}
	rules := &sequenceRules{}
	found, err := readJSONFile(a.rulesPath, rules)
	if err != nil {
		return nil, errors.InternalError("failed to read sequence rules", err)
	}
	if !found {
		rules = &sequenceRules{Version: 1, Defaults: map[string]map[string]map[string]SequenceRule{}}
	}
	if rules.Defaults == nil {
		rules.Defaults = map[string]map[string]map[string]SequenceRule{}
	}
	a.rules = rules
	return rules, nil
}

func (a *SequenceAllocator) saveRulesLocked() error {
	return writeJSONFile(a.rulesPath, a.rules)
}

// ResolveRule looks up the rule for a field, tenant overrides first.
// Returns nil when no rule is defined.
func (a *SequenceAllocator) ResolveRule(tenantID, moduleID, table, field string) (*SequenceRule, error) {
	rules, err := a.loadRules()
	if err != nil {
		return nil, err
	}
	a.rulesMu.Lock()
	defer a.rulesMu.Unlock()
	if tenantRules, ok := rules.Tenants[tenantID]; ok {
		if rule, ok := tenantRules[moduleID][table][field]; ok {
			return &rule, nil
		}
	}
	if rule, ok := rules.Defaults[moduleID][table][field]; ok {
		return &rule, nil
	}
	return nil, nil
}

// EnsureRule returns the rule for a field, creating a permissive default
// rule the first time an unruled field is sequenced. Creation happens at
// most once per field; the created rule is written back to the rules file.
func (a *SequenceAllocator) EnsureRule(tenantID, moduleID, table, field string) (*SequenceRule, error) {
	rule, err := a.ResolveRule(tenantID, moduleID, table, field)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return rule, nil
	}

	a.rulesMu.Lock()
	defer a.rulesMu.Unlock()
	// Re-check under the lock: another goroutine may have created it.
	if created, ok := a.rules.Defaults[moduleID][table][field]; ok {
		return &created, nil
	}
	fresh := SequenceRule{Start: 1, Padding: 4, PadChar: "0"}
	if a.rules.Defaults[moduleID] == nil {
		a.rules.Defaults[moduleID] = map[string]map[string]SequenceRule{}
	}
	if a.rules.Defaults[moduleID][table] == nil {
		a.rules.Defaults[moduleID][table] = map[string]SequenceRule{}
	}
	a.rules.Defaults[moduleID][table][field] = fresh
	if err := a.saveRulesLocked(); err != nil {
		a.logger.Warn("Failed to persist auto-created sequence rule",
			zap.String("module_id", moduleID),
			zap.String("table", table),
			zap.String("field", field),
			zap.Error(err))
	}
	a.logger.Info("Auto-created sequence rule",
		zap.String("module_id", moduleID),
		zap.String("table", table),
		zap.String("field", field))
	return &fresh, nil
}

func dateKey(rule *SequenceRule, now time.Time) string {
	if !strings.EqualFold(rule.Reset, "daily") {
		return ""
	}
	return now.Format("20060102")
}

func stateKey(moduleID, table, field, dateKey string) string {
	key := moduleID + ":" + table + ":" + field
	if dateKey != "" {
		key += "::" + dateKey
	}
	return key
}

// nextCounter advances the counter for a key, applying the start-value
// floor: a counter behind start-1 jumps so the issued value is >= start.
func nextCounter(state *sequenceState, key string, rule *SequenceRule) int64 {
	last := state.Counters[key]
	if last < rule.Start-1 {
		last = rule.Start - 1
	}
	next := last + 1
	state.Counters[key] = next
	return next
}

// FormatValue renders a counter into its public string form.
func FormatValue(rule *SequenceRule, counter int64, now time.Time) string {
	padChar := rule.PadChar
	if padChar == "" {
		padChar = "0"
	}
	number := fmt.Sprintf("%d", counter)
	for len(number) < rule.Padding {
		number = padChar + number
	}

	var datePart string
	if rule.DateFormat != "" {
		datePart = now.Format(goDateLayout(rule.DateFormat))
	}
	// Rules files name the placement "prefix" or "suffix"; "after" is an
	// accepted alias for suffix.
	dateTrails := strings.EqualFold(rule.DatePosition, "suffix") ||
		strings.EqualFold(rule.DatePosition, "after")

	parts := make([]string, 0, 4)
	if rule.Prefix != "" {
		parts = append(parts, rule.Prefix)
	}
	if datePart != "" && !dateTrails {
		parts = append(parts, datePart)
	}
	parts = append(parts, number)
	if datePart != "" && dateTrails {
		parts = append(parts, datePart)
	}
	if rule.Suffix != "" {
		parts = append(parts, rule.Suffix)
	}
	return strings.Join(parts, rule.Delimiter)
}

// goDateLayout maps the rule-file date tokens onto a Go time layout.
func goDateLayout(format string) string {
	replacer := strings.NewReplacer(
		"YYYY", "2006",
		"YY", "06",
		"MM", "01",
		"DD", "02",
	)
	return replacer.Replace(format)
}

// SequenceValue is one issued allocation: the raw counter and the rendered
// public form.
type SequenceValue struct {
	Value     int64  `json:"value"`
	Formatted string `json:"formatted"`
}

// NextValue allocates the next value for a field and persists the advanced
// counter before returning it.
func (a *SequenceAllocator) NextValue(tenantID, moduleID, table, field string) (SequenceValue, error) {
	rule, err := a.ResolveRule(tenantID, moduleID, table, field)
	if err != nil {
		return SequenceValue{}, err
	}
	if rule == nil {
		return SequenceValue{}, errors.SequenceRuleMissing(moduleID, table, field)
	}
	formatted, counter, err := a.allocate(tenantID, moduleID, table, field, rule)
	if err != nil {
		return SequenceValue{}, err
	}
	return SequenceValue{Value: counter, Formatted: formatted}, nil
}

func (a *SequenceAllocator) allocate(tenantID, moduleID, table, field string, rule *SequenceRule) (string, int64, error) {
	lock := a.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	now := a.now()
	state, err := a.readState(tenantID)
	if err != nil {
		return "", 0, err
	}
	key := stateKey(moduleID, table, field, dateKey(rule, now))
	counter := nextCounter(state, key, rule)
	if err := a.writeState(tenantID, state); err != nil {
		return "", 0, errors.PersistenceFailed("failed to persist sequence state", err).
			WithDetail("tenant_id", tenantID).
			WithDetail("sequence_key", key)
	}
	if a.metrics != nil {
		a.metrics.SequencesAllocated.WithLabelValues(moduleID, table).Inc()
	}
	return FormatValue(rule, counter, now), counter, nil
}

// TableRules returns every field rule configured for a table, with tenant
// overrides applied on top of defaults.
func (a *SequenceAllocator) TableRules(tenantID, moduleID, table string) (map[string]SequenceRule, error) {
	rules, err := a.loadRules()
	if err != nil {
		return nil, err
	}
	a.rulesMu.Lock()
	defer a.rulesMu.Unlock()
	merged := make(map[string]SequenceRule)
	for field, rule := range rules.Defaults[moduleID][table] {
		merged[field] = rule
	}
	if tenantRules, ok := rules.Tenants[tenantID]; ok {
		for field, rule := range tenantRules[moduleID][table] {
			merged[field] = rule
		}
	}
	return merged, nil
}

// ApplyAutoSequences fills every empty ruled field of a record about to be
// inserted. A rule's counter field, when set, receives the raw counter so
// downstream consumers can sort without parsing the formatted value.
// Fields already carrying a value are never overwritten.
func (a *SequenceAllocator) ApplyAutoSequences(tenantID, moduleID, table string, rec map[string]interface{}) error {
	tableRules, err := a.TableRules(tenantID, moduleID, table)
	if err != nil {
		return err
	}
	for field, rule := range tableRules {
		if hasValue(rec[field]) {
			continue
		}
		rule := rule
		value, counter, err := a.allocate(tenantID, moduleID, table, field, &rule)
		if err != nil {
			return err
		}
		rec[field] = value
		if rule.CounterField != "" && !hasValue(rec[rule.CounterField]) {
			rec[rule.CounterField] = counter
		}
	}
	return nil
}

func hasValue(v interface{}) bool {
	switch value := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(value) != ""
	default:
		return true
	}
}

// PreviewNextValue reports the value NextValue would issue without
// advancing or persisting anything.
func (a *SequenceAllocator) PreviewNextValue(tenantID, moduleID, table, field string) (SequenceValue, error) {
	rule, err := a.ResolveRule(tenantID, moduleID, table, field)
	if err != nil {
		return SequenceValue{}, err
	}
	if rule == nil {
		return SequenceValue{}, errors.SequenceRuleMissing(moduleID, table, field)
	}

	lock := a.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	now := a.now()
	state, err := a.readState(tenantID)
	if err != nil {
		return SequenceValue{}, err
	}
	key := stateKey(moduleID, table, field, dateKey(rule, now))
	last := state.Counters[key]
	if last < rule.Start-1 {
		last = rule.Start - 1
	}
	next := last + 1
	return SequenceValue{Value: next, Formatted: FormatValue(rule, next, now)}, nil
}

func (a *SequenceAllocator) readState(tenantID string) (*sequenceState, error) {
	state := &sequenceState{}
	if _, err := readJSONFile(a.layout.SequenceStatePath(tenantID), state); err != nil {
		return nil, errors.InternalError("failed to read sequence state", err)
	}
	if state.Counters == nil {
		state.Counters = make(map[string]int64)
	}
	return state, nil
}

func (a *SequenceAllocator) writeState(tenantID string, state *sequenceState) error {
	return writeJSONFile(a.layout.SequenceStatePath(tenantID), state)
}
