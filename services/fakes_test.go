package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memoryProfileStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]models.UserProfile
	err      error
	saves    int
}

func newMemoryProfileStore(profiles ...models.UserProfile) *memoryProfileStore {
	s := &memoryProfileStore{profiles: make(map[uuid.UUID]models.UserProfile)}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *memoryProfileStore) Get(_ context.Context, id uuid.UUID) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memoryProfileStore) GetByUserID(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range s.profiles {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memoryProfileStore) GetActiveProfiles(_ context.Context) ([]models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var active []models.UserProfile
	for _, p := range s.profiles {
		if p.EmailNotifications || p.TelegramNotifications {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID.String() < active[j].ID.String() })
	return active, nil
}

func (s *memoryProfileStore) Save(_ context.Context, profile *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
		profile.CreatedAt = time.Now()
	}
	profile.UpdatedAt = time.Now()
	s.profiles[profile.ID] = *profile
	s.saves++
	return nil
}

type memoryGrantIndex struct {
	grants []models.Grant
	err    error
	calls  int
}

func (g *memoryGrantIndex) Get(_ context.Context, id uuid.UUID) (*models.Grant, error) {
	if g.err != nil {
		return nil, g.err
	}
	for i := range g.grants {
		if g.grants[i].ID == id {
			grant := g.grants[i]
			return &grant, nil
		}
	}
	return nil, nil
}

func (g *memoryGrantIndex) GetOpenGrants(_ context.Context) ([]models.Grant, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	out := make([]models.Grant, len(g.grants))
	copy(out, g.grants)
	return out, nil
}

type notificationKey struct {
	profile uuid.UUID
	grant   uuid.UUID
	channel models.NotificationChannel
}

// memoryNotificationStore enforces the (profile, grant, channel) uniqueness
// like the database constraint does
type memoryNotificationStore struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*models.Notification
	keys        map[notificationKey]uuid.UUID
	createErr   error
	existsErr   error
	hideExists  bool
	createCalls int
}

func newMemoryNotificationStore() *memoryNotificationStore {
	return &memoryNotificationStore{
		rows: make(map[uuid.UUID]*models.Notification),
		keys: make(map[notificationKey]uuid.UUID),
	}
}

func (s *memoryNotificationStore) Exists(_ context.Context, profileID, grantID uuid.UUID, channel models.NotificationChannel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if s.hideExists {
		return false, nil
	}
	_, ok := s.keys[notificationKey{profileID, grantID, channel}]
	return ok, nil
}

func (s *memoryNotificationStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	key := notificationKey{n.ProfileID, n.GrantID, n.Channel}
	if _, ok := s.keys[key]; ok {
		return shared.ErrDuplicateNotification
	}
	n.CreatedAt = time.Now()
	row := *n
	s.rows[n.ID] = &row
	s.keys[key] = n.ID
	return nil
}

func (s *memoryNotificationStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.NotificationStatus, errMsg *string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return shared.NewNotFoundError("notification", id.String(), "memory", "update_status")
	}
	if row.Status != models.NotificationPending {
		return ErrNotificationFinal
	}
	row.Status = status
	row.Error = errMsg
	row.SentAt = sentAt
	return nil
}

func (s *memoryNotificationStore) ListRecentForProfile(_ context.Context, profileID uuid.UUID, limit int) ([]models.NotificationWithGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationWithGrant
	for _, row := range s.rows {
		if row.ProfileID == profileID {
			out = append(out, models.NotificationWithGrant{Notification: *row})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryNotificationStore) FailStalePending(_ context.Context, createdBefore time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.Status == models.NotificationPending && row.CreatedAt.Before(createdBefore) {
			row.Status = models.NotificationFailed
			r := reason
			row.Error = &r
			n++
		}
	}
	return n, nil
}

func (s *memoryNotificationStore) get(id uuid.UUID) models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memoryNotificationStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type recordingQueue struct {
	mu       sync.Mutex
	requests []models.DeliveryRequest
	err      error
}

func (q *recordingQueue) Enqueue(_ context.Context, req models.DeliveryRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.requests = append(q.requests, req)
	return nil
}

func (q *recordingQueue) Dequeue(_ context.Context, _ time.Duration) (*models.DeliveryRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requests) == 0 {
		return nil, nil
	}
	req := q.requests[0]
	q.requests = q.requests[1:]
	return &req, nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

var errStorage = errors.New("connection refused")

// fixture helpers

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testEngine() *MatchEngine {
	return NewMatchEngineWithClock(func() time.Time { return testNow })
}

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func strPtr(s string) *string {
	return &s
}

func solarProfile() models.UserProfile {
	return models.UserProfile{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		Keywords:              []string{"solar", "energy"},
		Regions:               []string{"EU"},
		MinAmount:             amount(1000),
		MaxAmount:             amount(5000),
		EmailNotifications:    true,
		Email:                 strPtr("ana@example.com"),
		TelegramNotifications: false,
	}
}

func solarGrant() models.Grant {
	return models.Grant{
		ID:       uuid.New(),
		Title:    "Solar Energy Grant",
		Region:   "EU",
		Amount:   amount(3000),
		Status:   models.GrantStatusOpen,
		Deadline: date(2025, 6, 30),
	}
}

func unrelatedGrant() models.Grant {
	return models.Grant{
		ID:       uuid.New(),
		Title:    "Unrelated Subsidy",
		Region:   "US",
		Amount:   amount(3000),
		Status:   models.GrantStatusOpen,
		Deadline: date(2025, 6, 30),
	}
}
