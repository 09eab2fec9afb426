package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway URL")

	_, err = New(Config{Enabled: true, GatewayURL: "http://localhost:9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from number")

	_, err = New(Config{Enabled: false})
	require.NoError(t, err)
}

func TestChannel_Send_MissingPhoneNumber(t *testing.T) {
	ch, err := New(Config{Enabled: true, GatewayURL: "http://localhost:9", FromNumber: "+15550000"})
	require.NoError(t, err)

	user := &domain.User{ID: "user-1", Email: "user@example.com"}
	notification := &domain.Notification{ID: "n-1", Title: "t", Content: "c"}

	result := ch.Send(context.Background(), user, notification)

	assert.False(t, result.Success)
	assert.Equal(t, "SMS failed", result.Message)
	assert.Equal(t, "User phone number not provided", result.Detail)
}

func TestChannel_Send_Success(t *testing.T) {
	var received gatewayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ch, err := New(Config{
		Enabled:    true,
		GatewayURL: server.URL,
		APIKey:     "secret",
		FromNumber: "+15550000",
	})
	require.NoError(t, err)

	user := &domain.User{ID: "user-1", PhoneNumber: "+15551234"}
	notification := &domain.Notification{ID: "n-1", Title: "Alert", Content: "Disk full"}

	result := ch.Send(context.Background(), user, notification)

	assert.True(t, result.Success)
	assert.Equal(t, "SMS sent successfully to +15551234", result.Message)
	assert.Equal(t, "+15551234", received.To)
	assert.Equal(t, "+15550000", received.From)
	assert.Contains(t, received.Body, "Alert")
}

func TestChannel_Send_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ch, err := New(Config{Enabled: true, GatewayURL: server.URL, FromNumber: "+15550000"})
	require.NoError(t, err)

	user := &domain.User{ID: "user-1", PhoneNumber: "+15551234"}
	notification := &domain.Notification{ID: "n-1", Title: "t", Content: "c"}

	result := ch.Send(context.Background(), user, notification)

	assert.False(t, result.Success)
	assert.Equal(t, "SMS failed", result.Message)
	assert.Contains(t, result.Detail, "status 502")
}
