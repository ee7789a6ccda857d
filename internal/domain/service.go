package domain

import "time"

// ServiceState mirrors the container service states the platform reports,
// plus ABSENT for a service that has not been created yet.
type ServiceState string

const (
	ServiceStateAbsent    ServiceState = "ABSENT"
	ServiceStatePending   ServiceState = "PENDING"
	ServiceStateReady     ServiceState = "READY"
	ServiceStateRunning   ServiceState = "RUNNING"
	ServiceStateSuspended ServiceState = "SUSPENDED"
	ServiceStateFailed    ServiceState = "FAILED"
	ServiceStateUnknown   ServiceState = "UNKNOWN"
)

// ServiceStatus is one container's status within the agent service.
type ServiceStatus struct {
	ContainerName string       `json:"container_name"`
	InstanceID    string       `json:"instance_id"`
	State         ServiceState `json:"status"`
	Message       string       `json:"message"`
	RestartCount  int          `json:"restart_count"`
	StartTime     string       `json:"start_time"`
}

// LogLine is one parsed service log record.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// StartAppParams sizes the compute pool and warehouse the installer creates.
type StartAppParams struct {
	MinNodes          int
	MaxNodes          int
	InstanceFamily    string
	WarehouseSize     string
	WarehouseAutoSusp int
}

// ServiceIntent is a journaled lifecycle step that must not be lost if the
// controller dies mid-sequence (e.g. a resume pending after a suspend).
type ServiceIntent struct {
	Name        string
	RequestedAt time.Time
}
