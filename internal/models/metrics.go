package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MetricCPU     = "cpu"
	MetricMemory  = "memory"
	MetricDisk    = "disk"
	MetricLatency = "network_latency"
)

// DetectableMetrics lists the metric types the detector evaluates.
var DetectableMetrics = []string{MetricCPU, MetricMemory, MetricDisk, MetricLatency}

// Metric is an append-only telemetry sample.
type Metric struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ServerID          uuid.UUID `gorm:"type:uuid;not null;index:idx_metric_server_time,priority:1" json:"server_id"`
	CPUUsage          float64   `json:"cpu_usage"`
	MemoryUsage       float64   `json:"memory_usage"`
	DiskUsage         float64   `json:"disk_usage"`
	NetworkLatency    float64   `json:"network_latency"`    // ms
	NetworkThroughput float64   `json:"network_throughput"` // Mbps
	ProcessCount      int       `json:"process_count"`
	Timestamp         time.Time `gorm:"not null;index;index:idx_metric_server_time,priority:2" json:"timestamp"`
}

// Value returns the sample's value for a metric type.
func (m *Metric) Value(metricType string) (float64, bool) {
	switch metricType {
	case MetricCPU:
		return m.CPUUsage, true
	case MetricMemory:
		return m.MemoryUsage, true
	case MetricDisk:
		return m.DiskUsage, true
	case MetricLatency:
		return m.NetworkLatency, true
	}
	return 0, false
}

// Anomaly is a write-once diagnostic record.
type Anomaly struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ServerID        uuid.UUID `gorm:"type:uuid;not null;index" json:"server_id"`
	AgentID         string    `gorm:"not null" json:"agent_id"`
	MetricType      string    `gorm:"not null" json:"metric_type"`
	Severity        string    `gorm:"not null" json:"severity"`
	ActualValue     float64   `json:"actual_value"`
	ExpectedValue   float64   `json:"expected_value"`
	DeviationScore  float64   `json:"deviation_score"`
	DetectionMethod string    `gorm:"not null" json:"detection_method"` // threshold, statistical, ai
	Description     string    `gorm:"type:text" json:"description"`
	DetectedAt      time.Time `gorm:"not null;index" json:"detected_at"`
}
