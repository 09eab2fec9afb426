//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/testutil"
	"github.com/stretchr/testify/require"
)

// createTestUser creates a user with unique username and email and returns
// it. The user is removed when the test finishes.
func createTestUser(t *testing.T, client *testutil.Client) domain.User {
	t.Helper()

	suffix := uuid.New().String()[:8]
	resp, err := client.POST("/api/v1/users", map[string]any{
		"username":    "user-" + suffix,
		"email":       "user-" + suffix + "@example.com",
		"phoneNumber": "+15550001234",
		"deviceToken": "device-" + suffix,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data domain.User `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.ID)

	t.Cleanup(func() { deleteUser(t, client, result.Data.ID) })
	return result.Data
}

func deleteUser(t *testing.T, client *testutil.Client, id string) {
	t.Helper()

	resp, err := client.DELETE("/api/v1/users/" + id)
	require.NoError(t, err)
	resp.Body.Close()
}

// sendNotification sends a notification for the user and returns the stored
// record from the response envelope.
func sendNotification(t *testing.T, client *testutil.Client, body map[string]any) domain.Notification {
	t.Helper()

	resp, err := client.POST("/api/v1/notifications", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			Notification domain.Notification `json:"notification"`
			Message      string              `json:"message"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.Notification.ID)
	return result.Data.Notification
}

// getNotification fetches one notification by id.
func getNotification(t *testing.T, client *testutil.Client, id string) domain.Notification {
	t.Helper()

	resp, err := client.GET("/api/v1/notifications/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.Notification `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
