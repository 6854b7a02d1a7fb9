// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verisit/verisit/internal/analyzer"
	"github.com/verisit/verisit/internal/checkin"
	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/ingest"
	"github.com/verisit/verisit/internal/ratelimit"
	"github.com/verisit/verisit/internal/review"
	"github.com/verisit/verisit/internal/store"
)

// maxBodyBytes caps request bodies; RSSI batches stay well below this.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request, key, op string) bool {
	if s.limiter == nil || s.limiter.Allow(key, op) {
		return false
	}
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:   "RATE_LIMITED",
		Message: "too many requests for this device, please retry later",
	})
	return true
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkin.CheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	if s.rateLimited(w, r, req.DeviceID, ratelimit.OpCheckIn) {
		return
	}

	resp, err := s.checkin.CheckIn(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req checkin.ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}

	resp, err := s.checkin.Confirm(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req checkin.CancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}

	resp, err := s.checkin.CancelProvisional(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")

	records, err := s.checkin.QueryToday(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"records": records,
	})
}

func (s *Server) handleRSSIStream(w http.ResponseWriter, r *http.Request) {
	var req ingest.AppendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	if s.rateLimited(w, r, req.StudentID, ratelimit.OpIngest) {
		return
	}

	resp, err := s.ingest.Append(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClassID     string `json:"classId,omitempty"`
		SessionDate string `json:"sessionDate,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeBadRequest(w, r, "invalid JSON body")
			return
		}
	}

	report, err := s.analyzer.Run(r.Context(), req.ClassID, req.SessionDate)
	if errors.Is(err, analyzer.ErrAlreadyRunning) {
		// Not an error for the caller: the work is happening.
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"running": true,
			"message": "analysis already in progress",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"report":  report,
	})
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analyzer.Status())
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AnomalyFilter{
		ClassID:     q.Get("classId"),
		SessionDate: q.Get("sessionDate"),
		Status:      anomaly.Status(q.Get("status")),
	}

	anomalies, err := s.review.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"anomalies": anomalies,
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req review.ReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return
	}
	req.AnomalyID = chi.URLParam(r, "id")

	a, err := s.review.Review(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"anomaly": a,
	})
}

func (s *Server) handleResetDevice(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")

	if err := s.checkin.ResetDevice(r.Context(), studentID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
	})
}
