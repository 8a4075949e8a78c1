package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorEnvelope(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("widget_message_invalid", "bad\nmessage", http.StatusBadRequest).
		WithDetails(map[string]any{"field": "type"}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "widget_message_invalid", payload["error"])
	require.Equal(t, "bad message", payload["message"])
	require.Equal(t, "type", payload["field"])
	require.EqualValues(t, http.StatusBadRequest, payload["status"])
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusInternalServerError, NewError("x", "y", 0).Status)
}
