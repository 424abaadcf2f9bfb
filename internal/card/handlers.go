package card

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/cardscan/internal/contact"
	"github.com/zombor/cardscan/internal/scanning"
)

// csvFilename is the download name for exported records
const csvFilename = "contact_data.csv"

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusForResult maps an extraction outcome to an HTTP status
func statusForResult(result ExtractionResult) int {
	if result.OK() {
		return http.StatusOK
	}
	switch result.Error.Kind {
	case scanning.KindEncoding:
		return http.StatusUnprocessableEntity
	case scanning.KindTransient:
		return http.StatusServiceUnavailable
	case scanning.KindInvalidResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// upload is an image read from a multipart form
type upload struct {
	filename    string
	contentType string
	data        []byte
}

// readUpload reads the "file" field of a multipart form. On failure it
// returns a message for the user and the HTTP status to send.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, string, int) {
	limitMB := s.maxUploadBytes >> 20
	tooLarge := fmt.Sprintf("File is too large. Maximum size is %dMB. Please compress or resize your image.", limitMB)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return upload{}, tooLarge, http.StatusRequestEntityTooLarge
		}
		return upload{}, "Error parsing form", http.StatusBadRequest
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		if errors.Is(err, http.ErrMissingFile) {
			return upload{}, "No file was selected. Please choose a file to upload.", http.StatusBadRequest
		}
		return upload{}, "No file provided", http.StatusBadRequest
	}
	defer f.Close()

	// Check file size before reading
	if header.Size > s.maxUploadBytes {
		return upload{}, tooLarge, http.StatusRequestEntityTooLarge
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		return upload{}, "Error reading file. Please try again.", http.StatusInternalServerError
	}

	return upload{
		filename:    header.Filename,
		contentType: uploadContentType(header.Header.Get("Content-Type"), header.Filename),
		data:        data,
	}, "", 0
}

// uploadContentType falls back to the file extension when the client did
// not send a usable content type
func uploadContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// uploadFailure is the ExtractionResult sent when the upload itself is unusable
func uploadFailure(message string) ExtractionResult {
	return ExtractionResult{
		Status: ResultFailure,
		Error:  &ResultError{Kind: scanning.KindEncoding, Message: message},
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleListFields returns the fields extracted from every card
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, contact.Fields())
}

// handleExtract extracts a record from an uploaded image without a session
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	up, msg, code := s.readUpload(w, r)
	if msg != "" {
		writeJSON(w, code, uploadFailure(msg))
		return
	}

	result := s.service.Extract(r.Context(), up.data, up.contentType)
	if !result.OK() {
		slog.Error("Error extracting contact card", "filename", up.filename, "kind", result.Error.Kind, "error", result.Error.Message)
	}
	writeJSON(w, statusForResult(result), result)
}

// handleListSessions returns all sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions()
	if err != nil {
		slog.Error("Error listing sessions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if sessions == nil {
		sessions = []*Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleCreateSession starts a session with an empty record
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.CreateSession()
	if err != nil {
		slog.Error("Error creating session", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// handleGetSession returns a single session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleDeleteSession ends a session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			corsError(w, "Session not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting session", "error", err)
		corsError(w, "Error deleting session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionExtractResponse is an ExtractionResult together with the session it updated
type sessionExtractResponse struct {
	ExtractionResult
	Session *Session `json:"session,omitempty"`
}

// handleExtractIntoSession extracts a record from an uploaded image into a session
func (s *Server) handleExtractIntoSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.GetSession(id); err != nil {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}

	up, msg, code := s.readUpload(w, r)
	if msg != "" {
		writeJSON(w, code, sessionExtractResponse{ExtractionResult: uploadFailure(msg)})
		return
	}

	session, result, err := s.service.ExtractIntoSession(r.Context(), id, up.filename, up.data, up.contentType)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			corsError(w, "Session not found", http.StatusNotFound)
			return
		}
		slog.Error("Error updating session", "session", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !result.OK() {
		slog.Error("Error extracting contact card", "session", id, "filename", up.filename, "kind", result.Error.Kind, "error", result.Error.Message)
	}
	writeJSON(w, statusForResult(result), sessionExtractResponse{ExtractionResult: result, Session: session})
}

// handleUpdateRecord applies field edits to a session's record
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.service.UpdateFields(r.PathValue("id"), values)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			corsError(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, contact.ErrUnknownField):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			slog.Error("Error updating record", "error", err)
			corsError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleExportCSV downloads a session's record as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportCSV(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			corsError(w, "Session not found", http.StatusNotFound)
			return
		}
		slog.Error("Error exporting csv", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvFilename))
	w.Write(data)
}
