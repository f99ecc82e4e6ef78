package audit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/org/clipguard/internal/crypto"
	"github.com/org/clipguard/pkg/models"
)

const sealContext = "clipguard-audit-v1"

// Sealer computes tamper-evidence MACs over audit events.
type Sealer struct {
	key []byte
}

// NewSealer derives a sealing key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	key, err := crypto.DeriveKey(secret, sealContext)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// Seal returns the hex MAC of e's canonical form. e.Seal itself is excluded.
func (s *Sealer) Seal(e *models.AuditEvent) string {
	return crypto.SignHMAC(s.key, canonical(e))
}

// Verify reports whether e.Seal matches the event's current contents.
func (s *Sealer) Verify(e *models.AuditEvent) bool {
	if e.Seal == "" {
		return false
	}
	return crypto.VerifyHMAC(s.key, canonical(e), e.Seal)
}

// canonical is a newline-joined field list. Metadata is JSON with sorted keys
// so the form survives a round trip through the durable store.
func canonical(e *models.AuditEvent) []byte {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = b
		}
	}
	return []byte(strings.Join([]string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PrincipalID,
		string(e.Operation),
		string(e.ResourceType),
		e.ResourceID,
		strconv.FormatBool(e.Success),
		string(e.Violation),
		e.RequestID,
		string(meta),
	}, "\n"))
}
