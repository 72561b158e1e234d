package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/scanforge/bookscan/internal/cloudinary"
)

// Phase is the lifecycle state of the single scan job.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseRunning   Phase = "RUNNING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseStopped   Phase = "STOPPED"
)

// Terminal reports whether only Reset can move the job forward.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError || p == PhaseStopped
}

var (
	// ErrJobAlreadyRunning rejects Start while a job is running.
	ErrJobAlreadyRunning = errors.New("scan: a job is already running")
	// ErrJobStillRunning rejects Reset while a job is running.
	ErrJobStillRunning = errors.New("scan: job is still running")
	// ErrInvalidConfig rejects Start with unusable credentials or root.
	ErrInvalidConfig = errors.New("scan: invalid job config")
)

// defaultTag is the tag value used when the caller leaves a metadata field
// empty, and the book type recorded in flat-folder mode.
const defaultTag = "Direct"

// JobConfig is the immutable per-run configuration. It carries credentials
// and lives only in the orchestrator's memory for the duration of one job;
// it is never serialized.
type JobConfig struct {
	ServiceAccountJSON string `json:"service_account_json"`

	CloudinaryCloudName string `json:"cloudinary_cloud_name"`
	CloudinaryAPIKey    string `json:"cloudinary_api_key"`
	CloudinaryAPISecret string `json:"cloudinary_api_secret"`

	// RootFolderID defaults to the Drive root.
	RootFolderID string `json:"drive_root_id"`

	AcademicYear string `json:"academic_year_id"`
	Term         string `json:"term_id"`
	Subject      string `json:"subject_id"`
	ReleaseYear  string `json:"release_year"`
}

func (c *JobConfig) applyDefaults() {
	if c.RootFolderID == "" {
		c.RootFolderID = "root"
	}
	for _, field := range []*string{&c.AcademicYear, &c.Term, &c.Subject, &c.ReleaseYear} {
		if *field == "" {
			*field = defaultTag
		}
	}
}

func (c JobConfig) validate() error {
	if c.ServiceAccountJSON == "" {
		return fmt.Errorf("%w: service account JSON is empty", ErrInvalidConfig)
	}
	creds := c.cloudinaryCredentials()
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c JobConfig) cloudinaryCredentials() cloudinary.Credentials {
	return cloudinary.Credentials{
		CloudName: c.CloudinaryCloudName,
		APIKey:    c.CloudinaryAPIKey,
		APISecret: c.CloudinaryAPISecret,
	}
}

// Counters accumulates per-run item outcomes. Values never decrease within
// a run.
type Counters struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Status is the externally visible job state snapshot.
type Status struct {
	Phase          Phase     `json:"phase"`
	Counters       Counters  `json:"counters"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	OutputFile     string    `json:"output_file,omitempty"`
}
