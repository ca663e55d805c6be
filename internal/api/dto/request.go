package dto

type SpawnWorkerRequest struct {
	ID *int32 `json:"id" binding:"required"`
}

type RunJobRequest struct {
	Values []float64 `json:"values" binding:"required,max=1000"`
}

type HeartbeatRequest struct {
	IntervalMs int `json:"interval_ms" binding:"min=0"`
}
