package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

func TestEmptySource(t *testing.T) {
	procs, err := EmptySource{}.Upcoming(context.Background(), "hosp-1", models.BloodTypeAPos)
	require.NoError(t, err)
	assert.NotNil(t, procs)
	assert.Empty(t, procs)
}

func TestHTTPSource_Upcoming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hospitals/hosp-1/procedures", r.URL.Path)
		assert.Equal(t, "O-", r.URL.Query().Get("blood_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"procedures":[{"date":"2024-06-03T08:00:00Z","units_needed":2},{"date":"2024-06-06T08:00:00Z","units_needed":3}]}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, zap.NewNop())
	procs, err := source.Upcoming(context.Background(), "hosp-1", models.BloodTypeONeg)

	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, 2, procs[0].UnitsNeeded)
	assert.True(t, procs[1].Date.Equal(time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)))
}

func TestHTTPSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	source := NewHTTPSource(srv.URL, zap.NewNop())
	_, err := source.Upcoming(context.Background(), "hosp-1", models.BloodTypeONeg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
