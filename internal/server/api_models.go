package server

import (
	"time"

	"github.com/raysh454/fatt/internal/distributed"
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Workers int    `json:"workers"`
}

// WorkersSnapshot is one registry view, sent by /workers and /ws/workers.
type WorkersSnapshot struct {
	Time    time.Time                     `json:"time"`
	Count   int                           `json:"count"`
	Workers []distributed.ConnectedWorker `json:"workers"`
}

// StopResponse acknowledges a shutdown request.
type StopResponse struct {
	WorkerID string `json:"worker_id"`
	Stopping bool   `json:"stopping"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}
