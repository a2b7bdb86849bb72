package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/drillplan/internal/importer"
	"github.com/JonMunkholm/drillplan/internal/store"
	"github.com/JonMunkholm/drillplan/internal/web/middleware"
	"github.com/JonMunkholm/drillplan/internal/web/templates"
)

// healthTimeout bounds the store ping behind /healthz.
const healthTimeout = 2 * time.Second

// multipartOverhead is added to the file size limit to leave room for
// form boundaries and headers.
const multipartOverhead = 64 << 10

// ImportRequest is the JSON body of POST /api/drills/import.
type ImportRequest struct {
	Rows   []importer.RawRow `json:"rows"`
	Source string            `json:"source,omitempty"`
	Policy string            `json:"policy,omitempty"`
	DryRun bool              `json:"dryRun,omitempty"`
}

// handleImportRows imports rows that the client already parsed.
func (s *Server) handleImportRows(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.importer.MaxFileSize())
	req, err := decodeImportRequest(r.Body, s.importer.MaxRows())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// An empty policy leaves the service default in place.
	var policy importer.Policy
	if req.Policy != "" {
		if policy, err = importer.ParsePolicy(req.Policy); err != nil {
			s.respondError(w, r, err)
			return
		}
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	result, err := s.importer.ImportRows(r.Context(), importer.Request{
		Owner:  owner,
		Source: source,
		Rows:   req.Rows,
		DryRun: req.DryRun,
		Policy: policy,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondResult(w, r, result)
}

// decodeImportRequest parses the JSON body. Numbers stay json.Number so
// minutes and numeric names keep their exact text. Rows are decoded one at
// a time and decoding stops once more than maxRows have been read.
func decodeImportRequest(body io.Reader, maxRows int) (ImportRequest, error) {
	var req ImportRequest
	dec := json.NewDecoder(body)
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return req, err
	}
	sawRows := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return req, invalidJSON(err)
		}
		key, _ := tok.(string)

		switch strings.ToLower(key) {
		case "rows":
			req.Rows, err = decodeRows(dec, maxRows)
			sawRows = req.Rows != nil
		case "source":
			err = dec.Decode(&req.Source)
		case "policy":
			err = dec.Decode(&req.Policy)
		case "dryrun":
			err = dec.Decode(&req.DryRun)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return req, invalidJSON(err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return req, err
	}
	if !sawRows {
		return req, fmt.Errorf("%w: rows is required", importer.ErrInvalidJSON)
	}
	return req, nil
}

// decodeRows reads the rows array. null yields nil rows.
func decodeRows(dec *json.Decoder, maxRows int) ([]importer.RawRow, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("%w: rows must be an array", importer.ErrInvalidJSON)
	}

	rows := []importer.RawRow{}
	for dec.More() {
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", importer.ErrTooManyRows, maxRows)
		}
		var row importer.RawRow
		if err := dec.Decode(&row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rows, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return invalidJSON(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q", importer.ErrInvalidJSON, want)
	}
	return nil
}

// invalidJSON classifies a decode failure. Sentinel errors pass through and
// a body cut off by MaxBytesReader is reported as too large.
func invalidJSON(err error) error {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return importer.ErrFileTooLarge
	case errors.Is(err, importer.ErrInvalidJSON), errors.Is(err, importer.ErrTooManyRows):
		return err
	default:
		return fmt.Errorf("%w: %v", importer.ErrInvalidJSON, err)
	}
}

// handleImportFile imports an uploaded CSV or XLSX file.
func (s *Server) handleImportFile(w http.ResponseWriter, r *http.Request) {
	s.importUpload(w, r, false)
}

// handleImportPreview reports what importing the uploaded file would do.
func (s *Server) handleImportPreview(w http.ResponseWriter, r *http.Request) {
	s.importUpload(w, r, true)
}

func (s *Server) importUpload(w http.ResponseWriter, r *http.Request, preview bool) {
	owner := middleware.OwnerFrom(r.Context())

	maxSize := s.importer.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, importer.ErrFileTooLarge)
			return
		}
		s.respondError(w, r, importer.ErrNoFile)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, importer.ErrNoFile)
		return
	}
	defer file.Close()

	var result *importer.ImportResult
	if preview {
		result, err = s.importer.Preview(r.Context(), owner, header.Filename, file)
	} else {
		result, err = s.importer.ImportFile(r.Context(), owner, header.Filename, file, false)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondResult(w, r, result)
}

// respondResult writes an import result: the notice partial for HTMX,
// JSON otherwise. Row errors do not change the status; the run completed.
func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, result *importer.ImportResult) {
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.ImportNotice(result).Render(r.Context(), w); err != nil {
			s.respondError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDownloadTemplate serves the header-only import template as CSV, or
// as a workbook with ?format=xlsx.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	var (
		buf         bytes.Buffer
		err         error
		contentType string
		filename    string
	)
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "xlsx":
		err = importer.WriteTemplateXLSX(&buf)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "drill-import-template.xlsx"
	case "", "csv":
		err = importer.WriteTemplateCSV(&buf)
		contentType = "text/csv; charset=utf-8"
		filename = "drill-import-template.csv"
	default:
		s.respondError(w, r, importer.ErrUnsupportedFormat)
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	buf.WriteTo(w)
}

// handleImportStatus reports import slot occupancy.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.importer.LimiterStatus())
}

func (s *Server) handleListDrills(w http.ResponseWriter, r *http.Request) {
	drills, err := s.store.ListDrills(r.Context(), middleware.OwnerFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if drills == nil {
		drills = []store.Drill{}
	}
	writeJSON(w, http.StatusOK, drills)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ListCategories(r.Context(), middleware.OwnerFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if cats == nil {
		cats = []store.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

// handleListImports returns recent import runs; ?limit= is clamped by the service.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", importer.DefaultHistoryLimit)
	runs, err := s.importer.History(r.Context(), middleware.OwnerFrom(r.Context()), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.ImportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleHealth pings the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.importer.LimiterStatus(),
	})
}

// parseIntParam parses a positive integer query parameter, falling back to
// defaultVal when absent or invalid.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
