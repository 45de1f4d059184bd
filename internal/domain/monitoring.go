package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Metric is one time-series sample. Append-only per §6.
type Metric struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string         `gorm:"column:name;index" json:"name"`
	Value     float64        `gorm:"column:value" json:"value"`
	Labels    datatypes.JSON `gorm:"column:labels" json:"labels,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Metric) TableName() string { return "system_metrics" }

// AlertType and AlertSeverity classify an Alert per §4.7's taxonomy.
type AlertType string

const (
	AlertTypeError   AlertType = "error"
	AlertTypeWarning AlertType = "warning"
	AlertTypeInfo    AlertType = "info"
)

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
	SeverityLow      AlertSeverity = "low"
)

// Alert is a discrete, append-only alert record.
type Alert struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Type           AlertType      `gorm:"column:type;index" json:"type"`
	Severity       AlertSeverity  `gorm:"column:severity;index" json:"severity"`
	Title          string         `gorm:"column:title" json:"title"`
	Message        string         `gorm:"column:message" json:"message"`
	Metadata       datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	AcknowledgedBy *string        `gorm:"column:acknowledged_by" json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Alert) TableName() string { return "system_alerts" }
