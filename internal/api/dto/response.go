package dto

import "go-arbor/internal/domain"

type SpawnWorkerResponse struct {
	ID      domain.NodeID  `json:"id"`
	Parent  *domain.NodeID `json:"parent"`
	PID     int            `json:"pid,omitempty"`
	Pending bool           `json:"pending"`
}

type RemoveWorkerResponse struct {
	Removed []domain.NodeID `json:"removed"`
}

type StatusResponse struct {
	ID    domain.NodeID `json:"id"`
	Alive bool          `json:"alive"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
