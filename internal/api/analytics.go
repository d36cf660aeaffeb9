package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"loopsync/backend/internal/conversation"
	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/middleware"
)

// maxHistoryLimit caps the history page size
const maxHistoryLimit = 200

// AnalyticsController exposes conversation analytics and history
type AnalyticsController struct {
	store        *conversation.Store
	historyLimit int
}

// NewAnalyticsController creates a new analytics controller
func NewAnalyticsController(store *conversation.Store, historyLimit int) *AnalyticsController {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &AnalyticsController{store: store, historyLimit: historyLimit}
}

// RegisterRoutes registers the analytics routes on the given group
func (c *AnalyticsController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/analytics", c.Analytics)
	rg.GET("/coro/history", c.History)
}

// Analytics returns the aggregate metrics, optionally bounded by from/to (RFC 3339)
func (c *AnalyticsController) Analytics(ctx *gin.Context) {
	tr, err := parseTimeRange(ctx.Query("from"), ctx.Query("to"))
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("Analytics aggregation panicked",
				"error", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			ctx.JSON(http.StatusOK, models.EmptyAnalytics())
		}
	}()

	ctx.JSON(http.StatusOK, c.store.Analytics(tr))
}

// History returns the caller's most recent messages in chronological order
func (c *AnalyticsController) History(ctx *gin.Context) {
	limit := c.historyLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = ctx.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"messages": c.store.History(middleware.Identity(ctx), limit),
	})
}

func parseTimeRange(from, to string) (*models.TimeRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	tr := &models.TimeRange{}
	var err error
	if from != "" {
		if tr.Start, err = time.Parse(time.RFC3339, from); err != nil {
			return nil, errors.NewBadRequestError(errors.CodeInvalidTimeRange, "from must be an RFC 3339 timestamp").Wrap(err)
		}
	}
	if to != "" {
		if tr.End, err = time.Parse(time.RFC3339, to); err != nil {
			return nil, errors.NewBadRequestError(errors.CodeInvalidTimeRange, "to must be an RFC 3339 timestamp").Wrap(err)
		}
	}
	if !tr.Start.IsZero() && !tr.End.IsZero() && tr.End.Before(tr.Start) {
		return nil, errors.NewBadRequestError(errors.CodeInvalidTimeRange, "to must not be before from")
	}
	return tr, nil
}
