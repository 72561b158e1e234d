package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scanforge/bookscan/internal/catalog"
	"github.com/scanforge/bookscan/internal/drive"
	"github.com/scanforge/bookscan/internal/history"
	"github.com/scanforge/bookscan/internal/log"
	"github.com/scanforge/bookscan/internal/logbus"
	"github.com/scanforge/bookscan/internal/metrics"
	"github.com/scanforge/bookscan/internal/pdfinfo"
)

// The Drive library hierarchy: five folder levels, then PDF leaves.
var levelNames = [...]string{"Academic Year", "Term", "Subject", "Book Type", "Release Year"}

const fileLevel = len(levelNames)

// bookTags are the metadata fields attached to every catalog entry. In the
// hierarchical walk they come from folder names; in flat-folder mode they
// come from the job config.
type bookTags struct {
	academicYear string
	term         string
	subject      string
	bookType     string
	releaseYear  string
}

func (t *bookTags) set(level int, value string) {
	switch level {
	case 0:
		t.academicYear = value
	case 1:
		t.term = value
	case 2:
		t.subject = value
	case 3:
		t.bookType = value
	case 4:
		t.releaseYear = value
	}
}

// pipeline is the per-run traversal state. It lives on the run goroutine;
// only counter updates and the cancel check cross into the Manager's lock.
type pipeline struct {
	m        *Manager
	cfg      JobConfig
	lister   drive.Lister
	uploader AssetUploader

	// processed holds every ingested file ID: the resume set loaded at
	// start plus IDs merged during this run.
	processed map[string]struct{}
	// seen dedupes aliased items within one walk.
	seen map[string]struct{}
}

// run executes one scan job to a terminal phase. It never panics the
// process; every outcome ends in finish.
func (m *Manager) run(runID string, cfg JobConfig, lister drive.Lister, uploader AssetUploader) {
	ctx := log.ContextWithRunID(context.Background(), runID)
	logger := log.WithComponentFromContext(ctx, "scan")

	logger.Info().
		Str("event", "scan.start").
		Str(log.FieldFolder, cfg.RootFolderID).
		Msg("starting scan job")
	m.deps.Logs.Publish(logbus.LevelInfo, "Starting scan job...")

	p := &pipeline{
		m:        m,
		cfg:      cfg,
		lister:   lister,
		uploader: uploader,
		seen:     make(map[string]struct{}),
	}

	fatal := p.execute(ctx)
	m.finish(ctx, runID, p, fatal)
}

func (p *pipeline) execute(ctx context.Context) error {
	logs := p.m.deps.Logs

	processed, err := p.m.deps.Catalog.ProcessedIDs(ctx)
	if err != nil {
		return fmt.Errorf("load processed IDs: %w", err)
	}
	p.processed = processed
	logs.Publishf(logbus.LevelInfo, "Loaded %d previously processed files.", len(processed))

	logs.Publishf(logbus.LevelInfo, "Scanning from root ID: %s", p.cfg.RootFolderID)
	return p.walk(ctx, p.cfg.RootFolderID, 0, bookTags{})
}

// walk descends the folder hierarchy depth-first, children in name order.
// It returns only fatal errors; per-item and per-subtree failures are
// logged, counted and contained.
func (p *pipeline) walk(ctx context.Context, parentID string, level int, tags bookTags) error {
	if p.m.cancelRequested() {
		return nil
	}

	if level == fileLevel {
		return p.walkFiles(ctx, parentID, tags)
	}

	folders, err := p.lister.ListFolders(ctx, parentID)
	if err != nil {
		return p.listFailure(ctx, level, err)
	}

	if level == 0 && len(folders) == 0 {
		return p.flatScan(ctx, parentID)
	}

	logs := p.m.deps.Logs
	for _, folder := range folders {
		if p.m.cancelRequested() {
			return nil
		}
		logs.Publishf(logbus.LevelInfo, "Entering %s: %s", levelNames[level], folder.Name)

		next := tags
		next.set(level, folder.Name)
		if err := p.walk(ctx, folder.ID, level+1, next); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipeline) walkFiles(ctx context.Context, parentID string, tags bookTags) error {
	pdfs, err := p.lister.ListPDFs(ctx, parentID)
	if err != nil {
		return p.listFailure(ctx, fileLevel, err)
	}
	for _, item := range pdfs {
		if p.m.cancelRequested() {
			return nil
		}
		p.processItem(ctx, item, tags)
	}
	return nil
}

// flatScan ingests PDFs directly under the root when the expected folder
// structure is absent. Tags come from the job config.
func (p *pipeline) flatScan(ctx context.Context, rootID string) error {
	logs := p.m.deps.Logs
	logs.Publish(logbus.LevelInfo, "No folders found matching the structure. Checking for PDF files...")

	pdfs, err := p.lister.ListPDFs(ctx, rootID)
	if err != nil {
		return fmt.Errorf("list root PDFs: %w", err)
	}
	if len(pdfs) == 0 {
		logs.Publish(logbus.LevelCritical, "No items found in this folder.")
		logs.Publish(logbus.LevelCritical, "Confirm the folder ID is correct and shared with the service account.")
		return nil
	}

	logs.Publishf(logbus.LevelSuccess, "Flat folder mode: found %d PDF files. Processing...", len(pdfs))
	tags := bookTags{
		academicYear: p.cfg.AcademicYear,
		term:         p.cfg.Term,
		subject:      p.cfg.Subject,
		bookType:     defaultTag,
		releaseYear:  p.cfg.ReleaseYear,
	}
	for _, item := range pdfs {
		if p.m.cancelRequested() {
			return nil
		}
		p.processItem(ctx, item, tags)
	}
	logs.Publish(logbus.LevelSuccess, "Flat folder processing complete.")
	return nil
}

// listFailure decides whether a listing error aborts the run. Failing to
// resolve the root and systemic auth rejections are fatal; a failure deeper
// in the tree abandons that subtree and the walk continues.
func (p *pipeline) listFailure(ctx context.Context, level int, err error) error {
	if level == 0 {
		return fmt.Errorf("resolve root folder: %w", err)
	}
	if errors.Is(err, drive.ErrUnauthorized) {
		return fmt.Errorf("drive access rejected: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, "scan")
	logger.Error().
		Err(err).
		Str("event", "scan.list_failed").
		Int("level", level).
		Msg("listing failed, skipping subtree")
	p.m.deps.Logs.Publishf(logbus.LevelError, "Listing failed at %s level: %v", levelLabel(level), err)
	return nil
}

func levelLabel(level int) string {
	if level < fileLevel {
		return levelNames[level]
	}
	return "file"
}

// processItem ingests a single PDF. Failures are counted and logged; they
// never abort the walk.
func (p *pipeline) processItem(ctx context.Context, item drive.Item, tags bookTags) {
	if _, dup := p.seen[item.ID]; dup {
		return
	}
	p.seen[item.ID] = struct{}{}

	if _, done := p.processed[item.ID]; done {
		p.m.addSkipped()
		return
	}

	logs := p.m.deps.Logs
	logs.Publishf(logbus.LevelInfo, "Processing: %s", item.Name)

	entry, err := p.ingest(ctx, item, tags)
	if err != nil {
		p.m.addError()
		logs.Publishf(logbus.LevelError, "Error on file %s: %v", item.Name, err)
		scanLog := log.WithComponentFromContext(ctx, "scan")
		scanLog.Error().
			Err(err).
			Str("event", "item.failed").
			Str(log.FieldFileID, item.ID).
			Msg("item ingestion failed")
		return
	}

	p.processed[item.ID] = struct{}{}
	p.m.addProcessed()
	logs.Publishf(logbus.LevelSuccess, "Finished: %s (%d pages, %d MB)", item.Name, entry.PageCount, entry.FileSizeMB)
}

func (p *pipeline) ingest(ctx context.Context, item drive.Item, tags bookTags) (*catalog.Entry, error) {
	data, err := p.lister.Download(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	info, err := pdfinfo.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}

	asset, err := p.uploader.Upload(ctx, data, item.ID)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	entry := catalog.Entry{
		FileID:       item.ID,
		Name:         item.Name,
		AcademicYear: tags.academicYear,
		Term:         tags.term,
		Subject:      tags.subject,
		BookType:     tags.bookType,
		ReleaseYear:  tags.releaseYear,
		PageCount:    info.PageCount,
		FileSizeMB:   info.FileSizeMB,
		ImageURL:     p.uploader.ThumbnailURL(asset, info.ThumbnailPage()),
		IngestedAt:   time.Now().UTC(),
	}
	if err := p.m.deps.Catalog.Merge(ctx, entry); err != nil {
		return nil, fmt.Errorf("merge catalog entry: %w", err)
	}
	return &entry, nil
}

// finish flushes the artifact, records the terminal phase and appends the
// history entry. Every run ends here exactly once.
func (m *Manager) finish(ctx context.Context, runID string, p *pipeline, fatal error) {
	logger := log.WithComponentFromContext(ctx, "scan")
	logs := m.deps.Logs

	outputFile, exportErr := m.deps.Catalog.ExportArtifact(ctx, m.deps.DataDir, runID)
	if exportErr != nil {
		logger.Error().Err(exportErr).Str("event", "artifact.export_failed").Msg("artifact export failed")
		if fatal == nil {
			fatal = fmt.Errorf("export artifact: %w", exportErr)
		}
	}

	m.mu.Lock()
	switch {
	case fatal != nil:
		m.phase = PhaseError
	case m.cancelReq:
		m.phase = PhaseStopped
	default:
		m.phase = PhaseCompleted
	}
	m.finishedAt = time.Now()
	m.outputFile = outputFile
	phase := m.phase
	counters := m.counters
	elapsed := int64(m.finishedAt.Sub(m.startedAt).Seconds())
	m.mu.Unlock()

	metrics.JobRunning.Set(0)
	metrics.RecordRun(string(phase))

	switch phase {
	case PhaseCompleted:
		logs.Publishf(logbus.LevelSuccess, "Job completed successfully. Processed %d, skipped %d, errors %d.",
			counters.Processed, counters.Skipped, counters.Errors)
	case PhaseStopped:
		logs.Publish(logbus.LevelInfo, "Job stopped by user.")
	case PhaseError:
		logs.Publishf(logbus.LevelCritical, "Job failed: %v", fatal)
	}

	entry := history.Entry{
		ID:         runID,
		Timestamp:  time.Now().UTC(),
		FolderName: m.folderLabel(ctx, p),
		Status:     string(phase),
		Stats: history.Stats{
			Processed:      counters.Processed,
			Skipped:        counters.Skipped,
			Errors:         counters.Errors,
			ElapsedSeconds: elapsed,
		},
		OutputFile: outputFile,
	}
	if err := m.deps.History.Append(entry); err != nil {
		logger.Error().Err(err).Str("event", "history.append_failed").Msg("history append failed")
	}

	logger.Info().
		Str("event", "scan.finished").
		Str(log.FieldPhase, string(phase)).
		Int("processed", counters.Processed).
		Int("skipped", counters.Skipped).
		Int("errors", counters.Errors).
		Int64("elapsed_seconds", elapsed).
		Msg("scan job finished")
}

// folderLabel resolves the human name of the scanned root for the history
// entry, falling back to the raw folder ID.
func (m *Manager) folderLabel(ctx context.Context, p *pipeline) string {
	name, err := p.lister.FolderName(ctx, p.cfg.RootFolderID)
	if err != nil || name == "" {
		return p.cfg.RootFolderID
	}
	return name
}
