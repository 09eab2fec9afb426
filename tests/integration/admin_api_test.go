//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmin_Channels(t *testing.T) {
	resp, err := testClient.GET("/api/v1/admin/channels")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []channel.Descriptor `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)

	// Console fallbacks cover every channel type in the test setup
	types := map[domain.ChannelType]bool{}
	for _, d := range result.Data {
		types[d.Type] = true
	}
	assert.True(t, types[domain.ChannelTypeEmail])
	assert.True(t, types[domain.ChannelTypeSMS])
	assert.True(t, types[domain.ChannelTypePush])
}

func TestAdmin_Status(t *testing.T) {
	resp, err := testClient.GET("/api/v1/admin/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Version       string `json:"version"`
			UptimeSeconds int64  `json:"uptimeSeconds"`
			ActiveTimers  int    `json:"activeTimers"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.NotEmpty(t, result.Data.Version)
	assert.GreaterOrEqual(t, result.Data.UptimeSeconds, int64(0))
}

func TestAdmin_CancelScheduled(t *testing.T) {
	user := createTestUser(t, testClient)

	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Operator override",
		"content":     "body",
		"channelType": "email",
		"scheduledAt": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})

	resp, err := testClient.POST("/api/v1/admin/scheduler/cancel/"+notification.ID, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Cancelled bool `json:"cancelled"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.True(t, result.Data.Cancelled)

	stored := getNotification(t, testClient, notification.ID)
	assert.Equal(t, domain.NotificationStatusCancelled, stored.Status)
}

func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := testClient.GET(path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}

	resp, err := testClient.GET("/version")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v map[string]string
	testutil.DecodeJSON(t, resp, &v)
	assert.NotEmpty(t, v["version"])
}
