package measurement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, queryPath, r.URL.Path)
		assert.Equal(t, "owner-1", r.URL.Query().Get("owner"))
		assert.Equal(t, "571313000000000001", r.URL.Query().Get("meterId"))
		assert.Equal(t, "3600", r.URL.Query().Get("dateFrom"))
		assert.Equal(t, "10800", r.URL.Query().Get("dateTo"))

		_, _ = w.Write([]byte(`{"measurements":[
			{"meterId":"571313000000000001","dateFrom":3600,"dateTo":7200,"quantity":42,"quantityMissing":false,"quality":"Measured"},
			{"meterId":"571313000000000001","dateFrom":"1970-01-01T02:00:00Z","dateTo":"1970-01-01T03:00:00Z","quantity":0,"quantityMissing":true,"quality":"estimated"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, zap.NewNop())
	got, err := client.Query(context.Background(), "owner-1", "571313000000000001", 3600, 10800)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Measurement{
		MeterID: "571313000000000001", From: 3600, To: 7200, Quantity: 42, Quality: QualityMeasured,
	}, got[0])
	assert.Equal(t, interval.Interval{From: 7200, To: 10800}, got[1].Interval())
	assert.True(t, got[1].QuantityMissing)
	assert.Equal(t, QualityEstimated, got[1].Quality)
}

func TestClientQueryNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, zap.NewNop())
	_, err := client.Query(context.Background(), "o", "m", 0, 3600)
	assert.Error(t, err)
}

func TestClientQueryBadTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"measurements":[{"meterId":"m","dateFrom":"yesterday","dateTo":7200}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, zap.NewNop())
	_, err := client.Query(context.Background(), "o", "m", 0, 3600)
	assert.Error(t, err)
}
