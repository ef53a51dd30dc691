package models

import "time"

// Gateway is a remote manufacturing gateway enrolled with a tenant. Online
// status is maintained by heartbeats.
type Gateway struct {
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	GatewayID    string     `json:"gateway_id" db:"gateway_id"`
	Name         string     `json:"name,omitempty" db:"name"`
	CertSerial   string     `json:"cert_serial" db:"cert_serial"`
	Online       bool       `json:"online" db:"online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
}
