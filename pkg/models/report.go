package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ReportKindFile = "file"
	ReportKindURL  = "url"
)

// Report is a persisted scan outcome, owned by the key owner that requested it.
type Report struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	OwnerID     string          `db:"owner_id"     json:"ownerId"`
	KeyID       uuid.UUID       `db:"key_id"       json:"keyId"`
	Kind        string          `db:"kind"         json:"kind"`
	Target      string          `db:"target"       json:"target"`
	Verdict     string          `db:"verdict"      json:"verdict"`
	ThreatLevel string          `db:"threat_level" json:"threatLevel"`
	Result      json.RawMessage `db:"result"       json:"result"`
	CreatedAt   time.Time       `db:"created_at"   json:"createdAt"`
}
