package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ParseJSON decodes the request body into the given destination
func ParseJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes the request body and writes a 400 response on
// failure, returning false when the handler should stop.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := ParseJSON(r, dst); err != nil {
		WriteValidationError(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts an int64 path variable from the request
func ParsePathInt64(r *http.Request, name string) (int64, error) {
	vars := mux.Vars(r)
	raw, ok := vars[name]
	if !ok {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// ParsePathInt64OrError extracts an int64 path variable, writing a 400
// response on failure.
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := ParsePathInt64(r, name)
	if err != nil {
		WriteValidationError(w, err.Error())
		return 0, false
	}
	return v, true
}

// ParsePathString extracts a string path variable from the request
func ParsePathString(r *http.Request, name string) (string, error) {
	vars := mux.Vars(r)
	raw, ok := vars[name]
	if !ok || raw == "" {
		return "", fmt.Errorf("missing path parameter %q", name)
	}
	return raw, nil
}

// ParseQueryInt parses an integer query parameter, returning the default
// when absent.
func ParseQueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// ParseQueryBool parses a boolean query parameter, returning the default
// when absent.
func ParseQueryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// ParseQueryString returns a string query parameter or the default when absent
func ParseQueryString(r *http.Request, name, def string) string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	return raw
}

// ParsePagination extracts limit/offset query parameters with sane bounds
func ParsePagination(r *http.Request) (limit, offset int, err error) {
	limit, err = ParseQueryInt(r, "limit", 50)
	if err != nil {
		return 0, 0, err
	}
	if limit < 1 || limit > 500 {
		return 0, 0, fmt.Errorf("limit must be between 1 and 500")
	}
	offset, err = ParseQueryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("offset must not be negative")
	}
	return limit, offset, nil
}

// RequireNonEmpty validates that a string field is not empty
func RequireNonEmpty(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// RequirePositive validates that an integer field is positive
func RequirePositive(field string, value int64) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

// ValidateAll runs validators in order and returns the first error
func ValidateAll(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}
