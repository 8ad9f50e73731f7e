package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/c360studio/docscope/jobs"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// streamJob serves a job's event stream: the existing log is replayed first,
// then live events follow until the terminal event closes the stream.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request, mgr *jobs.Manager, id string) {
	if _, ok := mgr.Get(id); !ok {
		s.notFound(w, "job")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.bus.Subscribe(id)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("Encoding SSE event failed", "job_id", id, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
		}
	}
}
