// Package pdfinfo extracts lightweight metadata from raw PDF bytes.
// It does not render pages; it only needs enough structure awareness to
// reject non-PDF payloads and count pages.
package pdfinfo

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// ErrNotPDF is returned when the payload does not carry a PDF header.
var ErrNotPDF = errors.New("pdfinfo: not a PDF document")

// Info is the extracted metadata of one document.
type Info struct {
	PageCount  int
	FileSizeMB int
}

var (
	header = []byte("%PDF-")
	// Page objects are "/Type /Page"; the terminator class keeps the page
	// tree nodes ("/Type /Pages") from matching.
	pageObjRe = regexp.MustCompile(`/Type\s*/Page\s*[/>\[\]\r\n]`)
	// The page tree root carries "/Type /Pages ... /Count N".
	pageCountRe = regexp.MustCompile(`/Type\s*/Pages[^>]*?/Count\s+(\d+)`)
)

// Extract parses metadata out of the document bytes.
func Extract(data []byte) (Info, error) {
	if !bytes.HasPrefix(data, header) {
		return Info{}, ErrNotPDF
	}

	pages := countPages(data)
	if pages == 0 {
		return Info{}, fmt.Errorf("pdfinfo: no pages found")
	}

	return Info{
		PageCount:  pages,
		FileSizeMB: int(math.Round(float64(len(data)) / (1024 * 1024))),
	}, nil
}

// countPages prefers the /Count value of the page tree root and falls back
// to counting page objects for documents without a parsable root.
func countPages(data []byte) int {
	best := 0
	for _, m := range pageCountRe.FindAllSubmatch(data, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > best {
			best = n
		}
	}
	if best > 0 {
		return best
	}
	return len(pageObjRe.FindAll(data, -1))
}

// ThumbnailPage picks the page rendered as the catalog thumbnail: the second
// page when the document has one, otherwise the first.
func (i Info) ThumbnailPage() int {
	if i.PageCount >= 2 {
		return 2
	}
	return 1
}
