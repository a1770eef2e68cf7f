package model

// StoreSnapshot is the full serialized form of a tenant/module store.
// It is the only durable representation of in-memory state between restarts.
type StoreSnapshot struct {
	TenantID string                 `json:"tenantId"`
	ModuleID string                 `json:"moduleId"`
	Version  int64                  `json:"version"`
	Meta     map[string]interface{} `json:"meta"`
	Tables   map[string][]Record    `json:"tables"`
}

// TotalRecords counts records across all tables.
func (s *StoreSnapshot) TotalRecords() int {
	total := 0
	for _, records := range s.Tables {
		total += len(records)
	}
	return total
}
