package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a Job row in the durable queue.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one unit of work in the durable FIFO described in §4.2: a
// queue lane, a type the worker dispatches on, a JSON payload, and the
// bookkeeping needed for priority leasing and retry-with-backoff.
type Job struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Queue        string         `gorm:"column:queue;index:idx_job_lease" json:"queue"`
	Type         string         `gorm:"column:type" json:"type"`
	Payload      datatypes.JSON `gorm:"column:payload" json:"payload"`
	Priority     int            `gorm:"column:priority;index:idx_job_lease" json:"priority"`
	Status       JobStatus      `gorm:"column:status;index:idx_job_lease" json:"status"`
	Attempts     int            `gorm:"column:attempts" json:"attempts"`
	MaxAttempts  int            `gorm:"column:max_attempts" json:"max_attempts"`
	ScheduledFor time.Time      `gorm:"column:scheduled_for;index:idx_job_lease" json:"scheduled_for"`
	LockedAt     *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	LockedBy     string         `gorm:"column:locked_by" json:"locked_by,omitempty"`
	LastError    string         `gorm:"column:last_error" json:"last_error,omitempty"`
	Result       datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at" json:"updated_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "job_queue" }

// ScrapingJobType distinguishes the flavor of adapter run a
// ScrapingJob tracks.
type ScrapingJobType string

const (
	ScrapeFull        ScrapingJobType = "full"
	ScrapeIncremental ScrapingJobType = "incremental"
	ScrapeCondition   ScrapingJobType = "condition"
)

// ScrapingJobStatus is the lifecycle state of a ScrapingJob.
type ScrapingJobStatus string

const (
	ScrapingJobRunning   ScrapingJobStatus = "running"
	ScrapingJobCompleted ScrapingJobStatus = "completed"
	ScrapingJobFailed    ScrapingJobStatus = "failed"
	ScrapingJobCancelled ScrapingJobStatus = "cancelled"
)

// ScrapingJob is the long-running context for one adapter run, tracked
// separately from Job per §3 so that heartbeat/progress bookkeeping
// doesn't overload the generic queue row.
type ScrapingJob struct {
	ID              uint64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	Registry        string                       `gorm:"column:registry;index" json:"registry"`
	Type            ScrapingJobType              `gorm:"column:type" json:"type"`
	Status          ScrapingJobStatus            `gorm:"column:status;index" json:"status"`
	StartedAt       time.Time                    `gorm:"column:started_at" json:"started_at"`
	LastHeartbeat   time.Time                    `gorm:"column:last_heartbeat" json:"last_heartbeat"`
	ProcessedItems  int                          `gorm:"column:processed_items" json:"processed_items"`
	FailedItems     int                          `gorm:"column:failed_items" json:"failed_items"`
	TotalItems      *int                         `gorm:"column:total_items" json:"total_items,omitempty"`
	Progress        datatypes.JSON               `gorm:"column:progress" json:"progress,omitempty"`
	CheckpointData  datatypes.JSON               `gorm:"column:checkpoint_data" json:"checkpoint_data,omitempty"`
	ErrorLog        datatypes.JSONType[[]string] `gorm:"column:error_log" json:"error_log"`
	WorkerID        string                       `gorm:"column:worker_id" json:"worker_id,omitempty"`
	CompletedAt     *time.Time                   `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (ScrapingJob) TableName() string { return "scraping_jobs" }

// Checkpoint is an append-only resumption marker for one ScrapingJob.
// The most recently created row for a given (scraping_job_id, type)
// wins on resume.
type Checkpoint struct {
	ID              uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ScrapingJobID   uint64         `gorm:"column:scraping_job_id;index" json:"scraping_job_id"`
	Type            string         `gorm:"column:type" json:"type"`
	Data            datatypes.JSON `gorm:"column:data" json:"data"`
	ItemsProcessed  int            `gorm:"column:items_processed" json:"items_processed"`
	CreatedAt       time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Checkpoint) TableName() string { return "scraping_checkpoints" }
