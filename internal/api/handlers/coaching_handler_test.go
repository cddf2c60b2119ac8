package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/control-tower/backend/internal/signal"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
)

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema())
	return db
}

func newTestPerson(t *testing.T, db *sqlite.Client) models.Person {
	t.Helper()

	p := models.Person{
		ID:         uuid.NewString(),
		Name:       "Alex Kim",
		Email:      uuid.NewString() + "@example.com",
		Role:       "engineer",
		Department: "platform",
		Status:     models.PersonActive,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, db.InsertPerson(&p))
	return p
}

func newCoachingApp(db *sqlite.Client, feed *signal.Feed) *fiber.App {
	h := NewCoachingHandler(db, feed)
	app := fiber.New()
	app.Post("/api/v1/coaching-plans/:id/complete", h.CompletePlan)
	return app
}

func TestCompletePlanEmitsExactlyOneClosureSignal(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)
	feed := signal.NewFeed()

	plan := models.CoachingPlan{
		ID:        uuid.NewString(),
		PersonID:  person.ID,
		Objective: "Improve review turnaround",
		Status:    models.PlanActive,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateCoachingPlan(&plan))

	live, cancel := feed.Subscribe()
	defer cancel()

	app := newCoachingApp(db, feed)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/coaching-plans/%s/complete", plan.ID), nil)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.PlanCompleted, body["status"])

	signals, err := db.ListPersonSignals(person.ID, 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, signal.LevelInfo.String(), signals[0].Level)
	assert.Equal(t, "Coaching loop closed: Improve review turnaround", signals[0].Reason)
	assert.Nil(t, signals[0].ScoreDelta)

	// The closure is also pushed to the live feed.
	select {
	case s := <-live:
		assert.Equal(t, signals[0].ID, s.ID)
	default:
		t.Fatal("closure signal was not published to the feed")
	}
}

func TestCompletePlanRejectedRerunEmitsNoSignal(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)

	plan := models.CoachingPlan{
		ID:        uuid.NewString(),
		PersonID:  person.ID,
		Objective: "Improve review turnaround",
		Status:    models.PlanActive,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateCoachingPlan(&plan))

	app := newCoachingApp(db, nil)
	url := fmt.Sprintf("/api/v1/coaching-plans/%s/complete", plan.ID)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, url, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The plan is no longer active; a rerun is rejected and adds nothing.
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, url, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	signals, err := db.ListPersonSignals(person.ID, 10)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestCompletePlanUnknownPlanEmitsNoSignal(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)

	app := newCoachingApp(db, nil)
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/coaching-plans/no-such-plan/complete", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	signals, err := db.ListPersonSignals(person.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
