package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONSetsHeaderAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "m-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "m-1", body["id"])
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteBadRequest(rec, "profileId is required")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bad Request", body.Error)
	assert.Equal(t, http.StatusBadRequest, body.Code)
	assert.Equal(t, "profileId is required", body.Message)
}

func TestWriteJSONEncodeFailureWritesFallback(t *testing.T) {
	rec := httptest.NewRecorder()

	// Channels are not JSON-encodable, forcing the encode error path.
	WriteJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Contains(t, rec.Body.String(), "Internal server error")
}
