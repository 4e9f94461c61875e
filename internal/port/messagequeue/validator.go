package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks that data is valid JSON and, for subjects under
// auditBase, that it carries the fields every audit event requires.
// Other subjects only need to be valid JSON.
func Validate(auditBase, subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, auditBase+".") {
		return nil
	}

	var p AuditPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.ID == "" || p.Message == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("id and message are required"))
	}
	return nil
}
