package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository is an in-memory dispatch.Repository.
type mockRepository struct {
	mu            sync.Mutex
	notifications map[string]*domain.Notification

	failUpdateStatus bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{notifications: make(map[string]*domain.Notification)}
}

func (m *mockRepository) add(n *domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
}

func (m *mockRepository) get(id string) *domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[id]
}

func (m *mockRepository) Create(_ context.Context, n *domain.Notification) error {
	m.add(n)
	return nil
}

func (m *mockRepository) CreateBatch(_ context.Context, notifications []*domain.Notification) error {
	for _, n := range notifications {
		m.add(n)
	}
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepository) ListByUser(_ context.Context, userID string, _, _ int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id string, status domain.NotificationStatus, errorMessage string) error {
	if m.failUpdateStatus {
		return errors.New("store unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = status
	n.ErrorMessage = errorMessage
	return nil
}

func (m *mockRepository) UpdateScheduledAt(_ context.Context, id string, scheduledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	t := scheduledAt
	n.ScheduledAt = &t
	return nil
}

func (m *mockRepository) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = domain.NotificationStatusSent
	n.SentAt = &sentAt
	n.ErrorMessage = ""
	n.NextRetryAt = nil
	return nil
}

func (m *mockRepository) MarkRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Status = domain.NotificationStatusPending
	n.RetryCount = retryCount
	n.NextRetryAt = &nextRetryAt
	return nil
}

func (m *mockRepository) FetchDueRetries(_ context.Context, limit int) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var due []*domain.Notification
	for _, n := range m.notifications {
		if len(due) >= limit {
			break
		}
		if n.Status == domain.NotificationStatusPending && n.NextRetryAt != nil && !n.NextRetryAt.After(now) {
			n.NextRetryAt = nil
			cp := *n
			due = append(due, &cp)
		}
	}
	return due, nil
}

// mockUsers is an in-memory dispatch.UserDirectory.
type mockUsers struct {
	users map[string]*domain.User
}

func newMockUsers(users ...*domain.User) *mockUsers {
	m := &mockUsers{users: make(map[string]*domain.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *mockUsers) GetUsers(_ context.Context, ids []string) ([]domain.User, error) {
	var out []domain.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

// scriptedChannel returns queued results, then succeeds.
type scriptedChannel struct {
	channelType domain.ChannelType
	results     []channel.Result
	calls       int
	panicOnCall int
}

func (s *scriptedChannel) Send(_ context.Context, user *domain.User, _ *domain.Notification) channel.Result {
	s.calls++
	if s.panicOnCall > 0 && s.calls == s.panicOnCall {
		panic("provider blew up")
	}
	if len(s.results) > 0 {
		r := s.results[0]
		s.results = s.results[1:]
		return r
	}
	return channel.OK("Email sent successfully to " + user.Email)
}

func (s *scriptedChannel) Supports(t domain.ChannelType) bool { return t == s.channelType }
func (s *scriptedChannel) Type() domain.ChannelType           { return s.channelType }
func (s *scriptedChannel) Name() string                       { return "Scripted Channel" }

func testUser() *domain.User {
	return &domain.User{ID: "user-1", Username: "alice", Email: "alice@example.com"}
}

func testNotification(status domain.NotificationStatus) *domain.Notification {
	return &domain.Notification{
		ID:          "n-1",
		UserID:      "user-1",
		Title:       "Deploy finished",
		Content:     "Release 1.4.2 is live.",
		ChannelType: domain.ChannelTypeEmail,
		Priority:    domain.PriorityMedium,
		Status:      status,
	}
}

func newTestPipeline(repo *mockRepository, ch channel.Channel) *Pipeline {
	registry := channel.NewRegistry()
	if ch != nil {
		registry.Register(ch, 10)
	}
	return NewPipeline(repo, newMockUsers(testUser()), registry)
}

func TestPipeline_Deliver_Success(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusPending)
	repo.add(notification)

	pipeline := newTestPipeline(repo, &scriptedChannel{channelType: domain.ChannelTypeEmail})

	outcome := pipeline.Deliver(context.Background(), notification)

	assert.True(t, outcome.Success)
	assert.Equal(t, "Email sent successfully to alice@example.com", outcome.Message)
	assert.Equal(t, domain.NotificationStatusSent, notification.Status)
	require.NotNil(t, notification.SentAt)

	stored := repo.get("n-1")
	assert.Equal(t, domain.NotificationStatusSent, stored.Status)
	assert.NotNil(t, stored.SentAt)
}

func TestPipeline_Deliver_ChannelFailure(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusPending)
	repo.add(notification)

	pipeline := newTestPipeline(repo, &scriptedChannel{
		channelType: domain.ChannelTypeEmail,
		results:     []channel.Result{channel.Fail("Email failed", "SMTP connection refused")},
	})

	outcome := pipeline.Deliver(context.Background(), notification)

	assert.False(t, outcome.Success)
	assert.Equal(t, "Email failed", outcome.Message)
	assert.Equal(t, "SMTP connection refused", outcome.ErrorDetail)
	assert.Equal(t, domain.NotificationStatusFailed, notification.Status)
	assert.Equal(t, "SMTP connection refused", repo.get("n-1").ErrorMessage)
}

func TestPipeline_Deliver_UnsupportedChannelType(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusPending)
	notification.ChannelType = domain.ChannelType("fax")
	repo.add(notification)

	// Registry only knows email.
	pipeline := newTestPipeline(repo, &scriptedChannel{channelType: domain.ChannelTypeEmail})

	outcome := pipeline.Deliver(context.Background(), notification)

	assert.False(t, outcome.Success)
	assert.Equal(t, "Unsupported channel type: fax", outcome.ErrorDetail)
	assert.Equal(t, domain.NotificationStatusFailed, repo.get("n-1").Status)
}

func TestPipeline_Deliver_UnknownRecipient(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusPending)
	notification.UserID = "ghost"
	repo.add(notification)

	pipeline := newTestPipeline(repo, &scriptedChannel{channelType: domain.ChannelTypeEmail})

	outcome := pipeline.Deliver(context.Background(), notification)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorDetail, "User not found")
	assert.Equal(t, domain.NotificationStatusFailed, repo.get("n-1").Status)
}

func TestPipeline_Deliver_ChannelPanicBecomesFailure(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusPending)
	repo.add(notification)

	pipeline := newTestPipeline(repo, &scriptedChannel{
		channelType: domain.ChannelTypeEmail,
		panicOnCall: 1,
	})

	outcome := pipeline.Deliver(context.Background(), notification)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorDetail, "channel panic")
	assert.Equal(t, domain.NotificationStatusFailed, repo.get("n-1").Status)
}

func TestPipeline_Deliver_MarksPendingBeforeSend(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusScheduled)
	repo.add(notification)

	var statusAtSend domain.NotificationStatus
	registry := channel.NewRegistry()
	registry.Register(&probeChannel{onSend: func() {
		statusAtSend = repo.get("n-1").Status
	}}, 10)

	pipeline := NewPipeline(repo, newMockUsers(testUser()), registry)
	outcome := pipeline.Deliver(context.Background(), notification)

	assert.True(t, outcome.Success)
	assert.Equal(t, domain.NotificationStatusPending, statusAtSend)
}

type probeChannel struct {
	onSend func()
}

func (p *probeChannel) Send(_ context.Context, user *domain.User, _ *domain.Notification) channel.Result {
	p.onSend()
	return channel.OK("Email sent successfully to " + user.Email)
}

func (p *probeChannel) Supports(t domain.ChannelType) bool { return t == domain.ChannelTypeEmail }
func (p *probeChannel) Type() domain.ChannelType           { return domain.ChannelTypeEmail }
func (p *probeChannel) Name() string                       { return "Probe Channel" }

func TestPipeline_DeliverScheduled_SkipsCancelled(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusCancelled)
	repo.add(notification)

	ch := &scriptedChannel{channelType: domain.ChannelTypeEmail}
	pipeline := newTestPipeline(repo, ch)

	_, attempted, err := pipeline.DeliverScheduled(context.Background(), "n-1")

	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Zero(t, ch.calls)
	assert.Equal(t, domain.NotificationStatusCancelled, repo.get("n-1").Status)
}

func TestPipeline_DeliverScheduled_DeliversScheduled(t *testing.T) {
	repo := newMockRepository()
	notification := testNotification(domain.NotificationStatusScheduled)
	repo.add(notification)

	pipeline := newTestPipeline(repo, &scriptedChannel{channelType: domain.ChannelTypeEmail})

	outcome, attempted, err := pipeline.DeliverScheduled(context.Background(), "n-1")

	require.NoError(t, err)
	assert.True(t, attempted)
	assert.True(t, outcome.Success)
	assert.Equal(t, domain.NotificationStatusSent, repo.get("n-1").Status)
}

func TestPipeline_DeliverByID_NotFound(t *testing.T) {
	pipeline := newTestPipeline(newMockRepository(), &scriptedChannel{channelType: domain.ChannelTypeEmail})

	_, _, err := pipeline.DeliverByID(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotificationNotFound)
}
