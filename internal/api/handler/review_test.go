package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/review"
	"github.com/grepiku/grepiku/internal/store"
)

type captureQueue struct {
	jobs []*queue.Job
}

func (c *captureQueue) Enqueue(queueName string, job *queue.Job) error {
	c.jobs = append(c.jobs, job)
	return nil
}

func reviewRouter(t *testing.T) (*gin.Engine, *store.Store, *captureQueue) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)
	jobs := &captureQueue{}

	r := gin.New()
	h := NewReviewHandler(st, jobs)
	r.GET("/api/v1/runs/:id", h.GetRun)
	r.GET("/api/v1/pulls/:id/findings", h.ListFindings)
	r.POST("/api/v1/reviews", h.TriggerReview)
	return r, st, jobs
}

func seedPullRequest(t *testing.T, st *store.Store) (*model.Repo, *model.PullRequest) {
	t.Helper()
	provider, err := st.UpsertProvider("github", "")
	require.NoError(t, err)
	repo, err := st.UpsertRepo(provider.ID, "acme/api", "acme", "api", "acme/api", "main")
	require.NoError(t, err)
	pr, err := st.UpsertPullRequest(&model.PullRequest{
		RepoID:  repo.ID,
		Number:  7,
		Title:   "Add caching",
		State:   "open",
		HeadSHA: "abc123",
		BaseSHA: "base000",
	})
	require.NoError(t, err)
	return repo, pr
}

func TestGetRun(t *testing.T) {
	r, st, _ := reviewRouter(t)
	_, pr := seedPullRequest(t, st)

	run := &model.ReviewRun{ID: "run-1", PullRequestID: pr.ID, HeadSHA: "abc123", Status: model.RunStatusCompleted}
	require.NoError(t, st.CreateRun(run))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/runs/run-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run-1")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListFindings(t *testing.T) {
	r, st, _ := reviewRouter(t)
	_, pr := seedPullRequest(t, st)

	require.NoError(t, st.CreateFinding(&model.Finding{
		PullRequestID: pr.ID,
		CommentID:     "c-1",
		Path:          "main.go",
		Title:         "nil deref",
		Status:        model.FindingStatusOpen,
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/pulls/1/findings", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nil deref")
}

func TestTriggerReview(t *testing.T) {
	r, st, jobs := reviewRouter(t)
	repo, pr := seedPullRequest(t, st)

	body, _ := json.Marshal(map[string]interface{}{
		"provider": "github",
		"repo_id":  repo.ID,
		"number":   pr.Number,
	})
	req := httptest.NewRequest("POST", "/api/v1/reviews", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, jobs.jobs, 1)
	payload := jobs.jobs[0].Payload.(*review.Job)
	assert.Equal(t, review.TriggerManual, payload.Trigger)
	assert.True(t, payload.Force)
	assert.Equal(t, pr.ID, payload.PullRequestID)
}

func TestTriggerReviewValidation(t *testing.T) {
	r, _, jobs := reviewRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/reviews", bytes.NewReader([]byte(`{"provider":"github"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, jobs.jobs)
}
