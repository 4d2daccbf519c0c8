package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAlertPostsTextMessage(t *testing.T) {
	var got textMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	New(srv.URL, zap.NewNop()).Alert(context.Background(), "worker 7 callback exhausted")

	assert.Equal(t, "text", got.MsgType)
	assert.Equal(t, "worker 7 callback exhausted", got.Text.Content)
}

func TestAlertWithoutURLIsNoop(t *testing.T) {
	// Must not panic or block.
	New("", zap.NewNop()).Alert(context.Background(), "dropped")
}

func TestAlertSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	New(srv.URL, zap.NewNop()).Alert(context.Background(), "still fine")
}
