package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-fulfillment/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaidInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/payments/mid-1/tid 2", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount": 2000}`))
	}))
	defer server.Close()

	gateway := NewHTTPPaymentGateway(server.URL, time.Second)
	info, err := gateway.GetPaidInfo(context.Background(), "mid-1", "tid 2")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), info.Amount)
}

func TestGetPaidInfoErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"amount":`))
			},
		},
		{
			name: "too slow",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			gateway := NewHTTPPaymentGateway(server.URL, 100*time.Millisecond)
			_, err := gateway.GetPaidInfo(context.Background(), "mid", "tid")
			assert.ErrorIs(t, err, models.ErrGateway)
		})
	}
}

func TestGetPaidInfoUnreachable(t *testing.T) {
	gateway := NewHTTPPaymentGateway("http://127.0.0.1:1", time.Second)

	_, err := gateway.GetPaidInfo(context.Background(), "mid", "tid")
	assert.ErrorIs(t, err, models.ErrGateway)
}
