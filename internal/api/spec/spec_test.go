package spec

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentListsVersionedRoutes(t *testing.T) {
	doc := string(Document())
	require.True(t, strings.HasPrefix(doc, "openapi: 3."))
	for _, path := range []string{"/v1/transfers:", "/v1/withdrawals:", "/v1/webhooks/paycrest:", "/v1/auth/otp:"} {
		assert.Contains(t, doc, path)
	}
}

func TestOpenAPIHandlerRevalidates(t *testing.T) {
	h := OpenAPIHandler()

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Equal(t, len(Document()), w.Body.Len())

	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)

	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	req.Header.Set("If-None-Match", tag)
	w = httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Zero(t, w.Body.Len())
}
