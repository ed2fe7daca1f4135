package model

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// FaultCounters only ever grow; they reset on process restart.
type FaultCounters struct {
	PublishFailures   int64 `json:"publish_failures"`
	ReconnectAttempts int64 `json:"reconnect_attempts"`
	ReconnectFailures int64 `json:"reconnect_failures"`
	ReplayAttempts    int64 `json:"replay_attempts"`
	ReplayFailures    int64 `json:"replay_failures"`
}

type TransportHealth struct {
	Connected            bool            `json:"connected"`
	State                ConnectionState `json:"state"`
	OfflineQueueDepth    int             `json:"offline_queue_depth"`
	OfflineQueueMaxItems int             `json:"offline_queue_max_items"`
	Degraded             bool            `json:"degraded_mode"`
	FaultCounters        FaultCounters   `json:"fault_counters"`
}
