package model

// Reserved record fields. Every record carries an id and a per-record
// version counter used for optimistic-concurrency checks.
const (
	FieldID            = "id"
	FieldRecordVersion = "_rv"
)

// Record is a loosely-typed row. Table shapes are configuration-driven,
// so records are maps validated against the module schema, not structs.
type Record map[string]interface{}

// ID returns the record id, or "" if the record has none yet.
func (r Record) ID() string {
	if v, ok := r[FieldID].(string); ok {
		return v
	}
	return ""
}

// RecordVersion returns the per-record version counter. Snapshot
// deserialization turns numbers into float64, so both forms are accepted.
func (r Record) RecordVersion() int64 {
	return asInt64(r[FieldRecordVersion])
}

// SetRecordVersion sets the per-record version counter.
func (r Record) SetRecordVersion(v int64) {
	r[FieldRecordVersion] = v
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// MergeFields shallow-merges the given partial into a copy of r. Reserved
// fields in the partial are ignored; the caller controls id and version.
func (r Record) MergeFields(partial Record) Record {
	merged := r.Clone()
	for k, v := range partial {
		if k == FieldID || k == FieldRecordVersion {
			continue
		}
		merged[k] = cloneValue(v)
	}
	return merged
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case Record:
		return map[string]interface{}(typed.Clone())
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case int32:
		return int64(n)
	}
	return 0
}

// RecordRef identifies a record within a table without carrying its fields.
type RecordRef struct {
	Table string `json:"table"`
	ID    string `json:"id,omitempty"`
	Key   string `json:"key,omitempty"`
}
