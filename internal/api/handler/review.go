package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/review"
	"github.com/grepiku/grepiku/internal/store"
	pkgerrors "github.com/grepiku/grepiku/pkg/errors"
)

// Enqueuer is the queue surface the review handler needs.
type Enqueuer interface {
	Enqueue(queueName string, job *queue.Job) error
}

// ReviewHandler serves run inspection and manual review triggers.
type ReviewHandler struct {
	store *store.Store
	jobs  Enqueuer
}

// NewReviewHandler creates a review handler.
func NewReviewHandler(st *store.Store, jobs Enqueuer) *ReviewHandler {
	return &ReviewHandler{store: st, jobs: jobs}
}

// GetRun handles GET /api/v1/runs/:id.
func (h *ReviewHandler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListFindings handles GET /api/v1/pulls/:id/findings.
func (h *ReviewHandler) ListFindings(c *gin.Context) {
	pr, err := h.store.GetPullRequest(parseUint(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	findings, err := h.store.FindingsForPR(pr.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings})
}

// triggerRequest is the body of a manual review trigger.
type triggerRequest struct {
	Provider string `json:"provider" binding:"required"`
	RepoID   uint   `json:"repo_id" binding:"required"`
	Number   int    `json:"number" binding:"required"`
	HeadSHA  string `json:"head_sha"`
}

// TriggerReview handles POST /api/v1/reviews: a manual, forced review of a
// known pull request.
func (h *ReviewHandler) TriggerReview(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pkgerrors.ErrCodeValidation,
			"message": "Invalid request: " + err.Error(),
		})
		return
	}

	repo, err := h.store.GetRepo(req.RepoID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	pr, err := h.store.GetPullRequestByNumber(repo.ID, req.Number)
	if err != nil {
		abortWithError(c, err)
		return
	}

	payload := &review.Job{
		Provider:      req.Provider,
		RepoID:        repo.ID,
		PullRequestID: pr.ID,
		Number:        pr.Number,
		HeadSHA:       req.HeadSHA,
		Trigger:       review.TriggerManual,
		Force:         true,
	}
	job := queue.NewJob(queue.QueueReview, queue.KindReview, repo.FullName, payload)
	if err := h.jobs.Enqueue(queue.QueueReview, job); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "review scheduled",
		"job_id":  job.ID,
	})
}

// abortWithError maps an AppError to its HTTP status.
func abortWithError(c *gin.Context, err error) {
	if appErr, ok := pkgerrors.AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus(), gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    pkgerrors.ErrCodeInternal,
		"message": "Internal server error",
	})
}

func parseUint(s string) uint {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint(v)
}
