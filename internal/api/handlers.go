package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/scanforge/bookscan/internal/catalog"
	"github.com/scanforge/bookscan/internal/log"
	"github.com/scanforge/bookscan/internal/logbus"
	"github.com/scanforge/bookscan/internal/scan"
)

// maxStartBody bounds the start request; a service account JSON is a few KB.
const maxStartBody = 256 * 1024

// statusRecentLines is how many backlog lines ride along with a status poll.
const statusRecentLines = 50

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	var cfg scan.JobConfig
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBody))
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.mgr.Start(cfg)
	switch {
	case err == nil:
		logger.Info().Str("event", "job.start").Msg("scan job accepted")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, scan.ErrJobAlreadyRunning):
		writeError(w, http.StatusConflict, "a scan job is already running")
	case errors.Is(err, scan.ErrInvalidConfig):
		// The config details never reach the response or the logs.
		logger.Warn().Str("event", "job.rejected").Msg("invalid job config")
		writeError(w, http.StatusBadRequest, "invalid job config")
	default:
		logger.Error().Err(err).Str("event", "job.start_failed").Msg("start failed")
		writeError(w, http.StatusInternalServerError, "failed to start job")
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mgr.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stop requested"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Reset(); err != nil {
		writeError(w, http.StatusConflict, "cannot reset while a job is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type statusResponse struct {
	scan.Status
	Logs []logbus.Line `json:"logs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.mgr.Status(),
		Logs:   s.logs.Recent(statusRecentLines),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.ledger.List()
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	name := r.URL.Query().Get("file")
	if name == "" {
		name = catalog.LatestArtifactName
	}
	if !catalog.ValidArtifactName(name) {
		logger.Warn().Str("event", "download.rejected").Msg("artifact name rejected")
		writeError(w, http.StatusBadRequest, "invalid artifact name")
		return
	}

	path := filepath.Join(s.cfg.DataDir, name)
	f, err := os.Open(path) // #nosec G304 -- name is validated against the artifact allowlist
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		logger.Error().Err(err).Str("event", "download.failed").Msg("artifact open failed")
		writeError(w, http.StatusInternalServerError, "failed to open artifact")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat artifact")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}
