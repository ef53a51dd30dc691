package orchestrator

// DraftRequest creates or updates a protocol draft.
type DraftRequest struct {
	ProtocolID string `json:"protocol_id" validate:"required,max=100"`
	Title      string `json:"title" validate:"required,max=255"`
	Content    string `json:"content" validate:"required"`
	ActorID    string `json:"actor_id" validate:"required,max=100"`
}

// PublishRequest publishes the current draft as a new immutable version.
type PublishRequest struct {
	ProtocolID     string `json:"protocol_id" validate:"required,max=100"`
	PublisherID    string `json:"publisher_id" validate:"required,max=100"`
	Changelog      string `json:"changelog"`
	Signature      string `json:"signature,omitempty"`   // required when policy mandates e-signature
	ApprovalID     string `json:"approval_id,omitempty"` // required when policy mandates dual control
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ApprovalRequest creates or transitions a publish approval.
type ApprovalRequest struct {
	ProtocolID string `json:"protocol_id" validate:"required,max=100"`
	ActorID    string `json:"actor_id" validate:"required,max=100"`
}

// StartRunRequest starts a manufacturing run against a published version.
type StartRunRequest struct {
	RunID           string `json:"run_id,omitempty" validate:"max=100"` // generated when empty
	ProtocolID      string `json:"protocol_id" validate:"required,max=100"`
	ProtocolVersion int    `json:"protocol_version" validate:"required,gt=0"`
	GatewayID       string `json:"gateway_id" validate:"required,max=100"`
	OperatorID      string `json:"operator_id" validate:"required,max=100"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

// RegisterGatewayRequest enrolls or re-enrolls a gateway.
type RegisterGatewayRequest struct {
	GatewayID  string `json:"gateway_id" validate:"required,max=100"`
	Name       string `json:"name" validate:"max=255"`
	CertSerial string `json:"cert_serial" validate:"required,max=100"`
}

// IngestRunEvent is one run event submitted by a gateway.
type IngestRunEvent struct {
	RunID        string      `json:"run_id"`
	EventType    string      `json:"event_type"`
	Payload      interface{} `json:"payload,omitempty"`
	RecordedAtMs int64       `json:"recorded_at_ms"`
}

// IngestTelemetryPoint is one telemetry sample submitted by a gateway.
type IngestTelemetryPoint struct {
	RunID        string  `json:"run_id"`
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Unit         string  `json:"unit,omitempty"`
	DriftScore   float64 `json:"drift_score"`
	RecordedAtMs int64   `json:"recorded_at_ms"`
}

// IngestResult reports partial-failure ingestion counts. One bad item never
// fails the whole batch.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// GatewayConfig is the configuration snapshot a gateway fetches on start and
// after a config-changed signal.
type GatewayConfig struct {
	Gateway        *GatewaySnapshot `json:"gateway"`
	Protocols      []ProtocolLatest `json:"protocols"`
	DriftThreshold float64          `json:"drift_threshold"`
}

// GatewaySnapshot is the gateway's own registration state.
type GatewaySnapshot struct {
	GatewayID  string `json:"gateway_id"`
	Name       string `json:"name,omitempty"`
	CertSerial string `json:"cert_serial"`
	Online     bool   `json:"online"`
}

// ProtocolLatest pairs a protocol with its latest published version.
type ProtocolLatest struct {
	ProtocolID    string `json:"protocol_id"`
	Title         string `json:"title"`
	LatestVersion int    `json:"latest_version"`
}

// ReproducibilityScore summarizes how closely a run's telemetry matched
// expected bounds.
type ReproducibilityScore struct {
	RunID          string  `json:"run_id"`
	Score          float64 `json:"score"`
	TelemetryCount int     `json:"telemetry_count"`
	DriftAlerts    int     `json:"drift_alerts"`
	Aborted        bool    `json:"aborted"`
}
