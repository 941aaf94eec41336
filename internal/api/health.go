package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Services  healthServices  `json:"services"`
	Ingestion healthIngestion `json:"ingestion"`
}

type healthServices struct {
	Database string `json:"database"`
}

type healthIngestion struct {
	// LastBlock is the highest ingested block, null before the first run.
	LastBlock *uint64 `json:"lastBlock"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := s.pool.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	var lastBlock *uint64
	if max, ok, err := s.tradeRepo.MaxBlockNumber(r.Context()); err == nil && ok {
		lastBlock = &max
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus},
		Ingestion: healthIngestion{LastBlock: lastBlock},
	})
}
