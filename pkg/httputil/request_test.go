package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/pkg/contextkeys"
)

func TestParseJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(`{"name":"Ada"}`))
		var dst struct {
			Name string `json:"name"`
		}
		require.NoError(t, ParseJSON(r, &dst))
		assert.Equal(t, "Ada", dst.Name)
	})

	t.Run("malformed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(`{"name":`))
		var dst struct{}
		err := ParseJSON(r, &dst)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid request body")
	})
}

func TestParsePathInt64(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/accounts/42", nil)
		r = mux.SetURLVars(r, map[string]string{"id": "42"})
		v, err := ParsePathInt64(r, "id")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("non-numeric", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/accounts/abc", nil)
		r = mux.SetURLVars(r, map[string]string{"id": "abc"})
		_, err := ParsePathInt64(r, "id")
		require.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/accounts", nil)
		_, err := ParsePathInt64(r, "id")
		require.Error(t, err)
	})
}

func TestParsePagination(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/clients", nil)
		limit, offset, err := ParsePagination(r)
		require.NoError(t, err)
		assert.Equal(t, 50, limit)
		assert.Equal(t, 0, offset)
	})

	t.Run("explicit", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/clients?limit=10&offset=30", nil)
		limit, offset, err := ParsePagination(r)
		require.NoError(t, err)
		assert.Equal(t, 10, limit)
		assert.Equal(t, 30, offset)
	})

	t.Run("limit out of bounds", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/clients?limit=9999", nil)
		_, _, err := ParsePagination(r)
		require.Error(t, err)
	})

	t.Run("negative offset", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/clients?offset=-1", nil)
		_, _, err := ParsePagination(r)
		require.Error(t, err)
	})
}

func TestValidateAll(t *testing.T) {
	err := ValidateAll(
		func() error { return RequireNonEmpty("name", "coach") },
		func() error { return RequirePositive("account_id", 0) },
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account_id")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		var seen string
		h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = contextkeys.GetRequestID(r.Context())
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("honors inbound header", func(t *testing.T) {
		var seen string
		h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = contextkeys.GetRequestID(r.Context())
		}))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "upstream-123")
		h.ServeHTTP(httptest.NewRecorder(), r)
		assert.Equal(t, "upstream-123", seen)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mk("outer"), mk("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
