package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// QueryInt returns a query parameter as int, clamped to [1, max] when max > 0.
// A missing or unparsable value yields def.
func QueryInt(r *http.Request, name string, def, max int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return def
	}
	if max > 0 && i > max {
		return max
	}
	return i
}

// QueryString returns a query parameter with a default value
func QueryString(r *http.Request, name, def string) string {
	if val := r.URL.Query().Get(name); val != "" {
		return val
	}
	return def
}

// OkJSON writes a JSON response with 200 OK status
func OkJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the error body shared by every JSON endpoint.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorWithCode writes an error response with a specific status code
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, ErrorResponse{Code: code, Message: message})
}

// NotFound writes a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	ErrorWithCode(w, http.StatusNotFound, message)
}

// InternalError writes a 500 response
func InternalError(w http.ResponseWriter, err error) {
	ErrorWithCode(w, http.StatusInternalServerError, err.Error())
}
