package remarkable

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrEmptyArchive is returned when a document archive has no entries.
var ErrEmptyArchive = errors.New("remarkable: archive has no entries")

var zipMagic = []byte("PK\x03\x04")

// pdfContent is the .content metadata the tablet expects next to an uploaded PDF.
type pdfContent struct {
	ExtraMetadata  map[string]string `json:"extraMetadata"`
	FileType       string            `json:"fileType"`
	LastOpenedPage int               `json:"lastOpenedPage"`
	LineHeight     int               `json:"lineHeight"`
	Margins        int               `json:"margins"`
	PageCount      int               `json:"pageCount"`
	TextScale      int               `json:"textScale"`
	Transform      map[string]string `json:"transform"`
}

// IsArchive reports whether payload looks like a zip document archive.
func IsArchive(payload []byte) bool {
	return bytes.HasPrefix(payload, zipMagic)
}

// buildPDFArchive wraps a PDF in the zip layout the storage API accepts:
// <id>.content, <id>.pagedata and <id>.pdf.
func buildPDFArchive(id string, pdf []byte) ([]byte, error) {
	content, err := json.Marshal(pdfContent{
		ExtraMetadata: map[string]string{},
		FileType:      "pdf",
		LineHeight:    -1,
		Margins:       180,
		TextScale:     1,
		Transform:     map[string]string{},
	})
	if err != nil {
		return nil, fmt.Errorf("remarkable: encoding content metadata: %w", err)
	}

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	entries := []struct {
		name string
		data []byte
	}{
		{id + ".content", content},
		{id + ".pagedata", nil},
		{id + ".pdf", pdf},
	}

	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			return nil, fmt.Errorf("remarkable: creating archive entry %s: %w", e.name, err)
		}

		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("remarkable: writing archive entry %s: %w", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("remarkable: closing archive: %w", err)
	}

	return buf.Bytes(), nil
}

// rekeyArchive copies a downloaded document archive, renaming every entry
// that starts with the old document id so it belongs to newID. Uploading an
// archive under its original id would collide with the sender's document.
func rekeyArchive(archive []byte, newID string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("remarkable: reading archive: %w", err)
	}

	if len(zr.File) == 0 {
		return nil, ErrEmptyArchive
	}

	oldID := archiveID(zr.File)

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for _, f := range zr.File {
		name := f.Name
		if oldID != "" && strings.HasPrefix(name, oldID) {
			name = newID + strings.TrimPrefix(name, oldID)
		}

		if err := copyEntry(zw, f, name); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("remarkable: closing archive: %w", err)
	}

	return buf.Bytes(), nil
}

// archiveID finds the document id an archive is keyed on, preferring the
// <id>.content entry.
func archiveID(files []*zip.File) string {
	for _, f := range files {
		if strings.HasSuffix(f.Name, ".content") && !strings.Contains(f.Name, "/") {
			return strings.TrimSuffix(f.Name, ".content")
		}
	}

	first := files[0].Name
	if i := strings.IndexAny(first, "./"); i > 0 {
		return first[:i]
	}

	return ""
}

func copyEntry(zw *zip.Writer, f *zip.File, name string) error {
	if f.FileInfo().IsDir() {
		_, err := zw.Create(path.Clean(name) + "/")
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("remarkable: opening archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("remarkable: creating archive entry %s: %w", name, err)
	}

	if _, err := io.Copy(w, rc); err != nil { //nolint:gosec // archives come from the user's own cloud
		return fmt.Errorf("remarkable: copying archive entry %s: %w", f.Name, err)
	}

	return nil
}
