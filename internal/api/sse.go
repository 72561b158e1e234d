package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scanforge/bookscan/internal/log"
)

// sseKeepAlive is the idle interval between comment frames. Proxies drop
// silent connections; the comment keeps them open without producing events.
const sseKeepAlive = 15 * time.Second

// handleLogStream serves the live log feed as Server-Sent Events. The
// subscriber first receives the retained backlog, then lines as they are
// published, one JSON object per data frame.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.logs.Subscribe()
	defer sub.Close()

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Debug().Str("event", "logstream.open").Msg("log stream subscriber connected")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Str("event", "logstream.close").Msg("log stream subscriber disconnected")
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case line, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(line)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
