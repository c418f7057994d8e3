package domain

import "time"

// AuditLog records security-relevant and operator actions.
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    string                 `db:"user_id" json:"user_id,omitempty"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Audit categories
const (
	AuditCategorySecurity = "security"
	AuditCategoryAdmin    = "admin"
)

// Audit actions
const (
	AuditActionSignatureRejected = "signature_rejected"
	AuditActionSignatureMissing  = "signature_missing"
	AuditActionRollupTriggered   = "rollup_triggered"
)
