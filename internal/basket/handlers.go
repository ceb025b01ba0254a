package basket

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"scantally/internal/scan"
)

// maxFrameSize bounds uploaded frames (high-resolution phone photos)
const maxFrameSize = int64(50 << 20) // 50MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// sessionError maps service errors onto HTTP status codes
func sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		corsError(w, "Scan session not found", http.StatusNotFound)
		return
	}
	jsonError(w, http.StatusBadRequest, err.Error())
}

// handleOpenSession opens a new scan session
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode              string `json:"mode"`
		MinScanIntervalMs int    `json:"min_scan_interval_ms"`
	}
	// An empty body means an auto-mode session with the default cadence
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	mode, err := scan.ParseMode(req.Mode)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	view := s.service.OpenSession(mode, time.Duration(req.MinScanIntervalMs)*time.Millisecond)
	writeJSON(w, http.StatusCreated, view)
}

// handleGetSession returns the current state of a scan session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleScanFrame accepts one camera frame and runs a recognize-and-merge
// cycle. The response always carries the outcome status; recognizer
// failures are reported there, never as 5xx, so a burst of bad frames
// does not break the client's scanning loop.
func (s *Server) handleScanFrame(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFrameSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "Frame is too large. Maximum size is 50MB."
		}
		jsonError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("frame")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "No frame provided. Attach the image as the 'frame' form field.")
		return
	}
	defer f.Close()

	if header.Size > maxFrameSize {
		jsonError(w, http.StatusBadRequest, "Frame is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading frame data", "error", err, "filename", header.Filename)
		jsonError(w, http.StatusInternalServerError, "Error reading frame. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	outcome, view, err := s.service.ScanFrame(r.Context(), r.PathValue("id"), data, contentType)
	if err != nil {
		sessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome,
		"session": view,
	})
}

// handleUpdateItem changes an accumulated item's quantity
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		corsError(w, "Invalid item index", http.StatusBadRequest)
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	view, err := s.service.UpdateQuantity(r.PathValue("id"), index, req.Quantity)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleRemoveItem removes an accumulated item
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		corsError(w, "Invalid item index", http.StatusBadRequest)
		return
	}

	view, err := s.service.RemoveItem(r.PathValue("id"), index)
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleResetSession clears a session's items and position history
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ResetSession(r.PathValue("id"))
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleConfirmSession persists the session as a basket
func (s *Server) handleConfirmSession(w http.ResponseWriter, r *http.Request) {
	basket, err := s.service.ConfirmSession(r.PathValue("id"))
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, basket)
}

// handleAbandonSession discards a session
func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.AbandonSession(r.PathValue("id")); err != nil {
		sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListBaskets returns a list of all baskets
func (s *Server) handleListBaskets(w http.ResponseWriter, r *http.Request) {
	baskets, err := s.service.ListBaskets()
	if err != nil {
		slog.Error("Error listing baskets", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if baskets == nil {
		baskets = []*Basket{}
	}
	writeJSON(w, http.StatusOK, baskets)
}

// handleGetBasket returns a single basket
func (s *Server) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	basket, err := s.service.GetBasket(r.PathValue("id"))
	if err != nil {
		corsError(w, "Basket not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, basket)
}

// handleGetBasketImage returns the frame snapshot for a basket
func (s *Server) handleGetBasketImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetBasketImage(r.PathValue("id"))
	if err != nil {
		corsError(w, "Snapshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteBasket deletes a basket
func (s *Server) handleDeleteBasket(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBasket(r.PathValue("id")); err != nil {
		corsError(w, "Error deleting basket", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
