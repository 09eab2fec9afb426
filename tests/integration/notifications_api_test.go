//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications_SendImmediate(t *testing.T) {
	user := createTestUser(t, testClient)

	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Welcome",
		"content":     "Hello from the integration suite",
		"channelType": "email",
		"priority":    "high",
		"metadata":    map[string]string{"campaign": "onboarding"},
	})

	// No providers are configured, so the console fallback delivers
	// synchronously on the request path.
	stored := getNotification(t, testClient, notification.ID)
	assert.Equal(t, domain.NotificationStatusSent, stored.Status)
	assert.Equal(t, domain.PriorityHigh, stored.Priority)
	assert.NotNil(t, stored.SentAt)
	assert.Equal(t, "onboarding", stored.Metadata["campaign"])
}

func TestNotifications_DefaultPriority(t *testing.T) {
	user := createTestUser(t, testClient)

	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "No priority given",
		"content":     "body",
		"channelType": "push",
	})

	assert.Equal(t, domain.PriorityMedium, notification.Priority)
}

func TestNotifications_SendToUnknownUser(t *testing.T) {
	resp, err := testClient.POST("/api/v1/notifications", map[string]any{
		"userId":      uuid.New().String(),
		"title":       "Nobody home",
		"content":     "body",
		"channelType": "email",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestNotifications_ValidationErrors(t *testing.T) {
	user := createTestUser(t, testClient)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{"userId": user.ID, "content": "x", "channelType": "email"}},
		{"missing content", map[string]any{"userId": user.ID, "title": "x", "channelType": "email"}},
		{"bad channel", map[string]any{"userId": user.ID, "title": "x", "content": "x", "channelType": "fax"}},
		{"bad priority", map[string]any{"userId": user.ID, "title": "x", "content": "x", "channelType": "email", "priority": "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := testClient.POST("/api/v1/notifications", tt.body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestNotifications_GetUnknown(t *testing.T) {
	resp, err := testClient.GET("/api/v1/notifications/" + uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestNotifications_ListByUser(t *testing.T) {
	user := createTestUser(t, testClient)

	for i := 0; i < 3; i++ {
		sendNotification(t, testClient, map[string]any{
			"userId":      user.ID,
			"title":       "List item",
			"content":     "body",
			"channelType": "email",
		})
	}

	resp, err := testClient.GET("/api/v1/notifications/user/" + user.ID + "?limit=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.Notification `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Len(t, result.Data, 2)

	resp, err = testClient.GET("/api/v1/notifications/user/" + user.ID + "?limit=2&offset=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &result)
	assert.Len(t, result.Data, 1)
}

func TestNotifications_ScheduleAndCancel(t *testing.T) {
	user := createTestUser(t, testClient)

	scheduledAt := time.Now().UTC().Add(time.Hour)
	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Later",
		"content":     "body",
		"channelType": "email",
		"scheduledAt": scheduledAt.Format(time.RFC3339),
	})
	assert.Equal(t, domain.NotificationStatusScheduled, notification.Status)

	resp, err := testClient.POST("/api/v1/notifications/"+notification.ID+"/cancel", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelResult struct {
		Data struct {
			Cancelled bool   `json:"cancelled"`
			Message   string `json:"message"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &cancelResult)
	assert.True(t, cancelResult.Data.Cancelled)

	stored := getNotification(t, testClient, notification.ID)
	assert.Equal(t, domain.NotificationStatusCancelled, stored.Status)

	// Cancelling again is not an error, it just reports nothing happened
	resp, err = testClient.POST("/api/v1/notifications/"+notification.ID+"/cancel", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &cancelResult)
	assert.False(t, cancelResult.Data.Cancelled)
}

func TestNotifications_ScheduledFires(t *testing.T) {
	user := createTestUser(t, testClient)

	// Past times are clamped to a short lead, so the timer fires while the
	// test waits.
	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Almost now",
		"content":     "body",
		"channelType": "email",
		"scheduledAt": time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	assert.Equal(t, domain.NotificationStatusScheduled, notification.Status)

	require.Eventually(t, func() bool {
		return getNotification(t, testClient, notification.ID).Status == domain.NotificationStatusSent
	}, 45*time.Second, time.Second)
}

func TestNotifications_Reschedule(t *testing.T) {
	user := createTestUser(t, testClient)

	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Move me",
		"content":     "body",
		"channelType": "sms",
		"scheduledAt": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})

	newTime := time.Now().UTC().Add(2 * time.Hour)
	resp, err := testClient.PUT("/api/v1/notifications/"+notification.ID+"/reschedule", map[string]any{
		"scheduledAt": newTime.Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.ScheduledJob `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, notification.ID, result.Data.NotificationID)
	assert.WithinDuration(t, newTime, result.Data.ScheduledTime, 2*time.Second)
	assert.Equal(t, "sms", result.Data.JobData["channelType"])

	moved := getNotification(t, testClient, notification.ID)
	require.NotNil(t, moved.ScheduledAt)
	assert.WithinDuration(t, newTime, *moved.ScheduledAt, 2*time.Second, "the stored row follows the reschedule")

	// Cleanup the armed timer
	resp, err = testClient.POST("/api/v1/notifications/"+notification.ID+"/cancel", nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestNotifications_RescheduleNonScheduled(t *testing.T) {
	user := createTestUser(t, testClient)

	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Already sent",
		"content":     "body",
		"channelType": "email",
	})

	resp, err := testClient.PUT("/api/v1/notifications/"+notification.ID+"/reschedule", map[string]any{
		"scheduledAt": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestNotifications_MarkDelivered(t *testing.T) {
	user := createTestUser(t, testClient)

	notification := sendNotification(t, testClient, map[string]any{
		"userId":      user.ID,
		"title":       "Receipt expected",
		"content":     "body",
		"channelType": "push",
	})

	resp, err := testClient.POST("/api/v1/notifications/"+notification.ID+"/delivered", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.Notification `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, domain.NotificationStatusDelivered, result.Data.Status)

	// A second receipt conflicts: the notification is no longer sent
	resp, err = testClient.POST("/api/v1/notifications/"+notification.ID+"/delivered", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}
