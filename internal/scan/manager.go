// Package scan owns the single scan job: its state machine, counters and
// cancellation signal, and the traversal pipeline that walks Drive, uploads
// thumbnails and fills the catalog.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanforge/bookscan/internal/catalog"
	"github.com/scanforge/bookscan/internal/cloudinary"
	"github.com/scanforge/bookscan/internal/drive"
	"github.com/scanforge/bookscan/internal/history"
	"github.com/scanforge/bookscan/internal/logbus"
	"github.com/scanforge/bookscan/internal/metrics"
)

// AssetUploader is the slice of the Cloudinary client the pipeline needs.
type AssetUploader interface {
	Upload(ctx context.Context, data []byte, publicID string) (*cloudinary.Asset, error)
	ThumbnailURL(asset *cloudinary.Asset, page int) string
}

// Deps wires the orchestrator to its collaborators. NewLister and
// NewUploader default to the real Drive and Cloudinary clients; tests
// substitute fakes.
type Deps struct {
	Catalog *catalog.Store
	History *history.Ledger
	Logs    *logbus.Broadcaster
	DataDir string

	// DriveRPS bounds the Drive API request rate of a run.
	DriveRPS float64

	NewLister   func(serviceAccountJSON string, rps float64) (drive.Lister, error)
	NewUploader func(creds cloudinary.Credentials) (AssetUploader, error)
}

// Manager is the scan job orchestrator. Exactly one job state exists
// process-wide; every field below mu is guarded by it.
type Manager struct {
	deps Deps

	mu         sync.Mutex
	phase      Phase
	counters   Counters
	startedAt  time.Time
	finishedAt time.Time
	outputFile string
	cancelReq  bool
	runID      string
}

// NewManager creates an idle orchestrator.
func NewManager(deps Deps) *Manager {
	if deps.NewLister == nil {
		deps.NewLister = func(serviceAccountJSON string, rps float64) (drive.Lister, error) {
			return drive.New(serviceAccountJSON, rps)
		}
	}
	if deps.NewUploader == nil {
		deps.NewUploader = func(creds cloudinary.Credentials) (AssetUploader, error) {
			return cloudinary.New(creds)
		}
	}
	if deps.DriveRPS <= 0 {
		deps.DriveRPS = 8
	}
	return &Manager{deps: deps, phase: PhaseIdle}
}

// Start validates the config, builds the remote clients, transitions
// IDLE→RUNNING and launches the pipeline on its own goroutine. It returns
// immediately; progress is observable through Status and the log feed.
// Invalid config and client construction failures are rejected
// synchronously with no state change.
func (m *Manager) Start(cfg JobConfig) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	lister, err := m.deps.NewLister(cfg.ServiceAccountJSON, m.deps.DriveRPS)
	if err != nil {
		return wrapConfigErr(err)
	}
	uploader, err := m.deps.NewUploader(cfg.cloudinaryCredentials())
	if err != nil {
		return wrapConfigErr(err)
	}

	m.mu.Lock()
	if m.phase == PhaseRunning {
		m.mu.Unlock()
		return ErrJobAlreadyRunning
	}
	runID := uuid.NewString()[:8]
	m.phase = PhaseRunning
	m.counters = Counters{}
	m.startedAt = time.Now()
	m.finishedAt = time.Time{}
	m.outputFile = ""
	m.cancelReq = false
	m.runID = runID
	m.mu.Unlock()

	metrics.JobRunning.Set(1)
	go m.run(runID, cfg, lister, uploader)
	return nil
}

// Stop requests cooperative cancellation. The pipeline observes the flag at
// item boundaries, flushes partial progress and exits with phase STOPPED.
// Calling Stop when no job is running is a no-op; Stop is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseRunning {
		m.cancelReq = true
	}
}

// Reset clears the in-memory job state back to IDLE. The persisted catalog
// and history are untouched. Resetting a running job is rejected.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseRunning {
		return ErrJobStillRunning
	}
	m.phase = PhaseIdle
	m.counters = Counters{}
	m.startedAt = time.Time{}
	m.finishedAt = time.Time{}
	m.outputFile = ""
	m.cancelReq = false
	m.runID = ""
	return nil
}

// Status returns the current job state snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var elapsed int64
	switch {
	case m.startedAt.IsZero():
	case m.phase == PhaseRunning:
		elapsed = int64(time.Since(m.startedAt).Seconds())
	default:
		elapsed = int64(m.finishedAt.Sub(m.startedAt).Seconds())
	}

	return Status{
		Phase:          m.phase,
		Counters:       m.counters,
		StartedAt:      m.startedAt,
		ElapsedSeconds: elapsed,
		OutputFile:     m.outputFile,
	}
}

// cancelRequested is the pipeline's cooperative cancellation check.
func (m *Manager) cancelRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelReq
}

func (m *Manager) addProcessed() {
	m.mu.Lock()
	m.counters.Processed++
	m.mu.Unlock()
	metrics.RecordItem("processed")
}

func (m *Manager) addSkipped() {
	m.mu.Lock()
	m.counters.Skipped++
	m.mu.Unlock()
	metrics.RecordItem("skipped")
}

func (m *Manager) addError() {
	m.mu.Lock()
	m.counters.Errors++
	m.mu.Unlock()
	metrics.RecordItem("error")
}

func wrapConfigErr(err error) error {
	return &configError{err: err}
}

// configError tags client construction failures as ErrInvalidConfig while
// keeping the underlying cause inspectable.
type configError struct {
	err error
}

func (e *configError) Error() string {
	return ErrInvalidConfig.Error() + ": " + e.err.Error()
}

func (e *configError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func (e *configError) Unwrap() error {
	return e.err
}
