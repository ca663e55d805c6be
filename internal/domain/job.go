package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// JobRecord is one RUN_JOB round trip kept in the job history ledger.
type JobRecord struct {
	ID            uuid.UUID      `gorm:"type:uuid;primary_key;" json:"id"`
	WorkerID      NodeID         `gorm:"index;not null" json:"worker_id"`
	CorrelationID uint64         `gorm:"index" json:"correlation_id"`
	Args          datatypes.JSON `gorm:"type:jsonb" json:"args"`
	Result        float64        `json:"result"`
	Status        JobStatus      `gorm:"type:varchar(20);index;default:'COMPLETED'" json:"status"`
	Error         string         `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func NewJobRecord(workerID NodeID, args []float64) *JobRecord {
	raw, _ := json.Marshal(args)
	return &JobRecord{
		ID:        uuid.New(),
		WorkerID:  workerID,
		Args:      datatypes.JSON(raw),
		Status:    JobCompleted,
		CreatedAt: time.Now(),
	}
}

// JobResult is the aggregated value a worker returned for a RUN_JOB.
type JobResult struct {
	WorkerID      NodeID  `json:"worker_id"`
	Value         float64 `json:"value"`
	CorrelationID uint64  `json:"correlation_id"`
}
