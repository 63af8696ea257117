package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"followup/internal/catalog"
	"followup/internal/models"
	"followup/internal/notify"
	"followup/internal/scheduler"
	"followup/internal/storage"
	"followup/internal/tracker"
)

const testUser = "U1234567890"

var bangkok = time.FixedZone("ICT", 7*60*60)

type fakeQueue struct {
	mu   sync.Mutex
	cmds []models.DispatchCommand
}

func (q *fakeQueue) PublishDispatch(ctx context.Context, cmd models.DispatchCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cmds = append(q.cmds, cmd)
	return nil
}

type fakePusher struct{}

func (fakePusher) Push(ctx context.Context, targetID, text string) error { return nil }

type testEnv struct {
	router *chi.Mux
	store  *storage.MemoryStorage
	sched  *scheduler.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()
	store := storage.NewMemoryStorage()
	sched := scheduler.New(store, &fakeQueue{}, catalog.Default(), bangkok, 9, logger)
	t.Cleanup(sched.Stop)
	escalator := notify.NewEscalator(fakePusher{}, "Gstaff123456789", 24)
	trk := tracker.New(store, escalator, nil, logger)

	h := NewReminderHandler(store, sched, trk, bangkok, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/discharges", h.CreateDischarge)
		r.Post("/responses", h.CreateResponse)
		r.Get("/reminders/{userID}/summary", h.GetSummary)
		r.Delete("/reminders/{userID}/{reminderType}", h.CancelReminder)
		r.Get("/jobs", h.ListJobs)
	})

	return &testEnv{router: r, store: store, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func futureDate() string {
	return time.Now().In(bangkok).AddDate(0, 0, 1).Format("2006-01-02")
}

func TestCreateDischarge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/discharges", map[string]string{
		"user_id":        testUser,
		"discharge_date": futureDate(),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var result models.ScheduleResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.UserID != testUser || len(result.Scheduled) != 4 {
		t.Errorf("result = %+v", result)
	}

	rows, err := env.store.GetAllSchedules(context.Background())
	if err != nil {
		t.Fatalf("GetAllSchedules: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("store rows = %d, want 4", len(rows))
	}
	if got := env.sched.Armed(); got != 4 {
		t.Errorf("Armed() = %d, want 4", got)
	}
}

func TestCreateDischargeValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	cases := map[string]any{
		"missing user":  map[string]string{"discharge_date": futureDate()},
		"bad date":      map[string]string{"user_id": testUser, "discharge_date": "tomorrow"},
		"empty payload": map[string]string{},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/api/discharges", body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/discharges", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestCreateResponse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now()
	err := env.store.CreateEvent(ctx, &models.ReminderEvent{
		ID:           "e1",
		UserID:       testUser,
		ReminderType: models.TypeDay3,
		Status:       models.StatusSent,
		MessageSent:  "msg",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/responses", map[string]string{
		"user_id": testUser,
		"text":    "สบายดีค่ะ",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var recorded models.ReminderEvent
	if err := json.NewDecoder(rec.Body).Decode(&recorded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if recorded.Status != models.StatusResponded || recorded.ResponseText != "สบายดีค่ะ" {
		t.Errorf("recorded = %+v", recorded)
	}
}

func TestCreateResponseNoPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/responses", map[string]string{
		"user_id": testUser,
		"text":    "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetSummary(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Now()

	rows := []*models.ReminderSchedule{
		{ID: "a", UserID: testUser, ReminderType: models.TypeDay3, Status: models.StatusResponded, CreatedAt: base},
		{ID: "b", UserID: testUser, ReminderType: models.TypeDay7, Status: models.StatusSent, CreatedAt: base.Add(time.Hour)},
		{ID: "c", UserID: "someone-else", ReminderType: models.TypeDay3, Status: models.StatusSent, CreatedAt: base},
	}
	for _, row := range rows {
		if err := env.store.CreateSchedule(ctx, row); err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/reminders/"+testUser+"/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var sum models.ReminderSummary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 2 || sum.Responded != 1 || sum.Pending != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Latest == nil || sum.Latest.ReminderType != models.TypeDay7 {
		t.Errorf("latest = %+v", sum.Latest)
	}
}

func TestCancelReminder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/discharges", map[string]string{
		"user_id":        testUser,
		"discharge_date": futureDate(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("discharge status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/reminders/"+testUser+"/day3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var out map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["cancelled"] != 1 {
		t.Errorf("cancelled = %d, want 1", out["cancelled"])
	}

	rec = env.do(t, http.MethodDelete, "/api/reminders/"+testUser+"/day3", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second cancel status = %d, want 404", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/discharges", map[string]string{
		"user_id":        testUser,
		"discharge_date": futureDate(),
	}); rec.Code != http.StatusCreated {
		t.Fatalf("discharge status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var jobs []scheduler.JobInfo
	if err := json.NewDecoder(rec.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 4 {
		t.Errorf("jobs = %d, want 4", len(jobs))
	}
	for _, j := range jobs {
		if j.UserID != testUser {
			t.Errorf("job user = %q", j.UserID)
		}
	}
}
