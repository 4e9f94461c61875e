package messagequeue

// AuditPayload is the schema for audit events published under the audit
// subject prefix.
type AuditPayload struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"created_at"`
}
