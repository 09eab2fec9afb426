//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_CreateAndGet(t *testing.T) {
	user := createTestUser(t, testClient)

	resp, err := testClient.GET("/api/v1/users/" + user.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.User `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, user.Username, result.Data.Username)
	assert.Equal(t, user.Email, result.Data.Email)
	assert.False(t, result.Data.CreatedAt.IsZero())
}

func TestUsers_DuplicateUsername(t *testing.T) {
	user := createTestUser(t, testClient)

	resp, err := testClient.POST("/api/v1/users", map[string]any{
		"username": user.Username,
		"email":    "other-" + uuid.New().String()[:8] + "@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errorResult struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	testutil.DecodeJSON(t, resp, &errorResult)
	assert.Contains(t, errorResult.Error.Message, "username")
}

func TestUsers_DuplicateEmail(t *testing.T) {
	user := createTestUser(t, testClient)

	resp, err := testClient.POST("/api/v1/users", map[string]any{
		"username": "other-" + uuid.New().String()[:8],
		"email":    user.Email,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestUsers_Update(t *testing.T) {
	user := createTestUser(t, testClient)

	resp, err := testClient.PUT("/api/v1/users/"+user.ID, map[string]any{
		"phoneNumber": "+15559876543",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.User `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "+15559876543", result.Data.PhoneNumber)
	// Untouched fields survive a partial update
	assert.Equal(t, user.Email, result.Data.Email)
}

func TestUsers_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing username", map[string]any{"email": "a@example.com"}},
		{"short username", map[string]any{"username": "ab"}},
		{"bad email", map[string]any{"username": "validname", "email": "not-an-email"}},
		{"bad phone", map[string]any{"username": "validname", "phoneNumber": "12345"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := testClient.POST("/api/v1/users", tt.body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestUsers_DeleteThenGet(t *testing.T) {
	suffix := uuid.New().String()[:8]
	resp, err := testClient.POST("/api/v1/users", map[string]any{
		"username": "gone-" + suffix,
		"email":    "gone-" + suffix + "@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data domain.User `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &created)

	resp, err = testClient.DELETE("/api/v1/users/" + created.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = testClient.GET("/api/v1/users/" + created.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUsers_List(t *testing.T) {
	createTestUser(t, testClient)
	createTestUser(t, testClient)

	resp, err := testClient.GET("/api/v1/users?limit=5")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.User `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.GreaterOrEqual(t, len(result.Data), 2)
	assert.LessOrEqual(t, len(result.Data), 5)
}
