// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteValidationError writes a validation error response (400 Bad Request)
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteNotFoundError writes a not found error response (404 Not Found)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteInternalError writes an internal server error response. The error
// detail is suppressed unless development mode is enabled, so processor and
// database internals never leak to clients in production.
func WriteInternalError(w http.ResponseWriter, err error, development bool) {
	if development && err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteBadGateway writes an upstream failure error (502)
func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadGateway, message)
}

// RestrictionResponse is the structured 403 payload returned when a
// capacity- or billing-restricted account attempts a blocked action.
type RestrictionResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	Tier       string `json:"tier"`
	Usage      int64  `json:"usage"`
	Limit      int64  `json:"limit"`
	UpgradeURL string `json:"upgrade_url"`
}

// WriteRestricted writes the structured restriction payload with plan
// headers so the client UI can render an upgrade prompt.
func WriteRestricted(w http.ResponseWriter, resp RestrictionResponse) {
	SetPlanHeaders(w, resp.Tier, resp.Usage, resp.Limit, true)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(resp)
}

// SetPlanHeaders surfaces the caller's tier, usage, limit and restriction
// state on every authenticated response for client-side consumption.
func SetPlanHeaders(w http.ResponseWriter, tier string, usage, limit int64, restricted bool) {
	w.Header().Set("X-Plan-Tier", tier)
	w.Header().Set("X-Plan-Usage", strconv.FormatInt(usage, 10))
	w.Header().Set("X-Plan-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-Plan-Restricted", strconv.FormatBool(restricted))
}
