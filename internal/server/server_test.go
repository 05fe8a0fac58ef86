package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eci-platform/notifyd/internal/config"
	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/engine"
	"github.com/eci-platform/notifyd/internal/provider"
	"github.com/eci-platform/notifyd/internal/store"
	"github.com/eci-platform/notifyd/internal/template"
)

const testKey = "nd_test_key"

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[string]domain.NotificationJob
	pingErr error
}

func (s *fakeJobs) Create(ctx context.Context, job *domain.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *fakeJobs) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *fakeJobs) Update(ctx context.Context, job *domain.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *fakeJobs) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error) {
	return nil, nil
}

func (s *fakeJobs) Stalled(ctx context.Context, before time.Time, limit int) ([]*domain.NotificationJob, error) {
	return nil, nil
}

func (s *fakeJobs) Stats(ctx context.Context) (*store.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &store.JobStats{
		ByState:     make(map[string]int),
		ByChannel:   make(map[string]int),
		ByEventType: make(map[string]int),
	}
	for _, job := range s.jobs {
		stats.Total++
		stats.ByState[string(job.State)]++
		stats.ByChannel[string(job.Channel)]++
		stats.ByEventType[job.EventType]++
	}
	return stats, nil
}

func (s *fakeJobs) List(ctx context.Context, filter store.ListFilter) ([]*domain.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.NotificationJob
	for _, job := range s.jobs {
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if filter.OrderID != "" && job.Payload["order_id"] != filter.OrderID {
			continue
		}
		j := job
		out = append(out, &j)
	}
	return out, nil
}

func (s *fakeJobs) Ping(ctx context.Context) error { return s.pingErr }

type fakeAttempts struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
}

func (s *fakeAttempts) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *fakeAttempts) ListByJob(ctx context.Context, jobID string) ([]*domain.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DeliveryAttempt
	for i := range s.attempts {
		if s.attempts[i].JobID == jobID {
			a := s.attempts[i]
			out = append(out, &a)
		}
	}
	return out, nil
}

type fakeIdem struct {
	mu      sync.Mutex
	recs    map[string]store.Reservation
	pingErr error
}

func (s *fakeIdem) CheckAndReserve(ctx context.Context, key, jobID string) (store.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[key]; ok {
		return rec, nil
	}
	s.recs[key] = store.Reservation{State: store.ReservationInFlight, JobID: jobID}
	return store.Reservation{State: store.ReservationFresh, JobID: jobID}, nil
}

func (s *fakeIdem) MarkDelivered(ctx context.Context, key, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key] = store.Reservation{State: store.ReservationAlreadyDelivered, JobID: jobID}
	return nil
}

func (s *fakeIdem) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}

func (s *fakeIdem) Ping(ctx context.Context) error { return s.pingErr }

type staticBroker struct{ healthy bool }

func (b staticBroker) Healthy() bool { return b.healthy }

type noopProvider struct{ channel domain.Channel }

func (p noopProvider) Channel() domain.Channel { return p.channel }
func (p noopProvider) Send(ctx context.Context, msg provider.Message) provider.Result {
	return provider.Result{Status: provider.StatusSuccess, Code: 200}
}

type testServer struct {
	srv      *Server
	jobs     *fakeJobs
	attempts *fakeAttempts
	idem     *fakeIdem
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jobs := &fakeJobs{jobs: make(map[string]domain.NotificationJob)}
	attempts := &fakeAttempts{}
	idem := &fakeIdem{recs: make(map[string]store.Reservation)}

	eng := engine.New(engine.Options{
		Jobs:        jobs,
		Attempts:    attempts,
		Idempotency: idem,
		Templates:   template.NewRegistry(),
		Providers: []provider.Provider{
			noopProvider{channel: domain.ChannelEmail},
			noopProvider{channel: domain.ChannelSMS},
		},
		Retry:     config.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 2},
		QueueSize: 64,
	})

	srv := New(Options{
		Engine:   eng,
		Jobs:     jobs,
		Attempts: attempts,
		Idem:     idem,
		Broker:   staticBroker{healthy: true},
		APIKey:   testKey,
	})
	return &testServer{srv: srv, jobs: jobs, attempts: attempts, idem: idem, handler: srv.Router()}
}

func (ts *testServer) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("X-API-Key", testKey)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/notifications", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: got %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set("X-API-Key", "nd_wrong_key")
	rec2 := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d, want 401", rec2.Code)
	}

	rec3 := ts.do(t, http.MethodGet, "/notifications", "", true)
	if rec3.Code != http.StatusOK {
		t.Errorf("valid key: got %d, want 200", rec3.Code)
	}
}

func TestHealthEndpointNoAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %s, want ok", resp.Status)
	}
	for _, component := range []string{"postgres", "redis", "broker"} {
		if resp.Components[component] != "ok" {
			t.Errorf("component %s = %q, want ok", component, resp.Components[component])
		}
	}
}

func TestHealthDegraded(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.pingErr = errors.New("connection refused")

	rec := ts.do(t, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Components["postgres"] != "unreachable" {
		t.Errorf("postgres = %q, want unreachable", resp.Components["postgres"])
	}
}

func TestSubmitNotification(t *testing.T) {
	ts := newTestServer(t)

	body := `{
		"event_id": "e1",
		"event_type": "order.confirmed",
		"channel": "EMAIL",
		"recipient": "a@x.com",
		"payload": {"order_id": "1", "customer_name": "Ada", "order_total": "99.00"}
	}`
	rec := ts.do(t, http.MethodPost, "/notifications", body, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["job_id"] == "" {
		t.Error("response missing job_id")
	}
	if _, err := ts.jobs.GetByID(context.Background(), resp["job_id"]); err != nil {
		t.Errorf("job not persisted: %v", err)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{`, "invalid_json"},
		{"missing recipient", `{"event_id":"e1","event_type":"order.confirmed","channel":"EMAIL"}`, "validation_failed"},
		{"bad channel", `{"event_id":"e1","event_type":"order.confirmed","channel":"FAX","recipient":"a@x.com"}`, "validation_failed"},
		{"unknown event type", `{"event_id":"e1","event_type":"cart.abandoned","channel":"EMAIL","recipient":"a@x.com"}`, "unknown_event_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/notifications", tt.body, true)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("got %d, want 400: %s", rec.Code, rec.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error != tt.code {
				t.Errorf("error = %s, want %s", resp.Error, tt.code)
			}
		})
	}
}

func TestSubmitConflictOnDelivered(t *testing.T) {
	ts := newTestServer(t)

	key := engine.DedupKey("e1", domain.ChannelEmail, "a@x.com")
	if err := ts.idem.MarkDelivered(context.Background(), key, "job-original"); err != nil {
		t.Fatal(err)
	}

	body := `{"event_id":"e1","event_type":"order.confirmed","channel":"EMAIL","recipient":"a@x.com","payload":{}}`
	rec := ts.do(t, http.MethodPost, "/notifications", body, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409: %s", rec.Code, rec.Body.String())
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "already_delivered" || resp.JobID != "job-original" {
		t.Errorf("unexpected conflict body %+v", resp)
	}
}

func TestGetNotification(t *testing.T) {
	ts := newTestServer(t)

	job := domain.NotificationJob{
		ID:            "job-1",
		SourceEventID: "e1",
		EventType:     "order.confirmed",
		Channel:       domain.ChannelEmail,
		Recipient:     "a@x.com",
		State:         domain.StateDelivered,
		AttemptCount:  1,
		CreatedAt:     time.Now(),
	}
	ts.jobs.jobs[job.ID] = job
	ts.attempts.attempts = append(ts.attempts.attempts, domain.DeliveryAttempt{
		JobID: "job-1", AttemptNo: 1, ResponseCode: 250, Succeeded: true, AttemptedAt: time.Now(),
	})

	rec := ts.do(t, http.MethodGet, "/notifications/job-1", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var resp struct {
		jobResponse
		Attempts []attemptResponse `json:"attempts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "job-1" || resp.State != "DELIVERED" {
		t.Errorf("unexpected job %+v", resp.jobResponse)
	}
	if len(resp.Attempts) != 1 || !resp.Attempts[0].Succeeded {
		t.Errorf("unexpected attempts %+v", resp.Attempts)
	}
}

func TestGetNotificationNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/notifications/nope", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestListNotifications(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.jobs["j1"] = domain.NotificationJob{ID: "j1", State: domain.StateFailed, Channel: domain.ChannelEmail}
	ts.jobs.jobs["j2"] = domain.NotificationJob{ID: "j2", State: domain.StateDelivered, Channel: domain.ChannelSMS}

	rec := ts.do(t, http.MethodGet, "/notifications?state=FAILED", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp struct {
		Notifications []jobResponse `json:"notifications"`
		Count         int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Notifications[0].ID != "j1" {
		t.Errorf("unexpected list %+v", resp)
	}

	rec2 := ts.do(t, http.MethodGet, "/notifications?state=BOGUS", "", true)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("invalid state filter: got %d, want 400", rec2.Code)
	}

	rec3 := ts.do(t, http.MethodGet, "/notifications?limit=0", "", true)
	if rec3.Code != http.StatusBadRequest {
		t.Errorf("invalid limit: got %d, want 400", rec3.Code)
	}
}

func TestListByOrderID(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.jobs["j1"] = domain.NotificationJob{
		ID: "j1", State: domain.StateDelivered, Channel: domain.ChannelEmail,
		Payload: map[string]string{"order_id": "1042"},
	}
	ts.jobs.jobs["j2"] = domain.NotificationJob{
		ID: "j2", State: domain.StateDelivered, Channel: domain.ChannelEmail,
		Payload: map[string]string{"order_id": "2000"},
	}

	rec := ts.do(t, http.MethodGet, "/notifications?order_id=1042", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp struct {
		Notifications []jobResponse `json:"notifications"`
		Count         int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Notifications[0].ID != "j1" {
		t.Errorf("unexpected list %+v", resp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.jobs["j1"] = domain.NotificationJob{
		ID: "j1", State: domain.StateDelivered, Channel: domain.ChannelEmail, EventType: "order.confirmed",
	}
	ts.jobs.jobs["j2"] = domain.NotificationJob{
		ID: "j2", State: domain.StateDelivered, Channel: domain.ChannelSMS, EventType: "shipment.shipped",
	}
	ts.jobs.jobs["j3"] = domain.NotificationJob{
		ID: "j3", State: domain.StateFailed, Channel: domain.ChannelEmail, EventType: "order.confirmed",
	}

	rec := ts.do(t, http.MethodGet, "/notifications/stats", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if resp.ByState["DELIVERED"] != 2 || resp.ByState["FAILED"] != 1 {
		t.Errorf("unexpected by_state %+v", resp.ByState)
	}
	if resp.ByChannel["EMAIL"] != 2 || resp.ByChannel["SMS"] != 1 {
		t.Errorf("unexpected by_channel %+v", resp.ByChannel)
	}
	if resp.ByEventType["order.confirmed"] != 2 || resp.ByEventType["shipment.shipped"] != 1 {
		t.Errorf("unexpected by_event_type %+v", resp.ByEventType)
	}

	// Stats requires auth like the rest of the management surface.
	rec2 := ts.do(t, http.MethodGet, "/notifications/stats", "", false)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated stats: got %d, want 401", rec2.Code)
	}
}

func TestRetryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.jobs["failed-1"] = domain.NotificationJob{
		ID:            "failed-1",
		SourceEventID: "e1",
		EventType:     "order.confirmed",
		Channel:       domain.ChannelEmail,
		Recipient:     "a@x.com",
		Payload:       map[string]string{"order_id": "1"},
		State:         domain.StateFailed,
	}
	ts.jobs.jobs["done-1"] = domain.NotificationJob{ID: "done-1", State: domain.StateDelivered}

	rec := ts.do(t, http.MethodPost, "/notifications/failed-1/retry", "", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["job_id"] == "" || resp["job_id"] == "failed-1" {
		t.Errorf("retry must return a fresh job id, got %q", resp["job_id"])
	}

	rec2 := ts.do(t, http.MethodPost, "/notifications/done-1/retry", "", true)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("retry of delivered job: got %d, want 400", rec2.Code)
	}

	rec3 := ts.do(t, http.MethodPost, "/notifications/nope/retry", "", true)
	if rec3.Code != http.StatusNotFound {
		t.Errorf("retry of unknown job: got %d, want 404", rec3.Code)
	}
}
