package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alichu45/socialbot/internal/service"
)

type schedulePostRequest struct {
	UserID        uint      `json:"user_id" binding:"required"`
	AccountID     uint      `json:"account_id" binding:"required"`
	Content       string    `json:"content" binding:"required"`
	MediaURL      string    `json:"media_url"`
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Dispatcher.SchedulePost(c.Request.Context(), req.UserID, req.AccountID, req.Content, req.MediaURL, req.ScheduledTime)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		s.Logger.Error("Failed to schedule post", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule post"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"post": post})
}

type reschedulePostRequest struct {
	UserID        uint      `json:"user_id" binding:"required"`
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
}

func (s *Server) handleReschedulePost(c *gin.Context) {
	postID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return
	}

	var req reschedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Dispatcher.Reschedule(c.Request.Context(), req.UserID, postID, req.ScheduledTime)
	if err != nil {
		if errors.Is(err, service.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		s.Logger.Error("Failed to reschedule post", zap.Uint("post_id", postID), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"post": post})
}

func (s *Server) handleListDuePosts(c *gin.Context) {
	posts, err := s.Dispatcher.ListDuePosts(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to list due posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list due posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleInboxStatus(c *gin.Context) {
	accountID, err := pathID(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}

	status, err := s.Analytics.InboxStatus(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		s.Logger.Error("Failed to get inbox status", zap.Uint("account_id", accountID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get inbox status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"inbox": status})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 32)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	filter := service.AnalyticsFilter{UserID: uint(userID)}
	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
			return
		}
		accountID := uint(id)
		filter.AccountID = &accountID
	}
	if raw := c.Query("campaign_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign_id"})
			return
		}
		campaignID := uint(id)
		filter.CampaignID = &campaignID
	}

	report, err := s.Analytics.Analytics(c.Request.Context(), filter)
	if err != nil {
		s.Logger.Error("Failed to build analytics report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build analytics report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"analytics": report})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	errs, err := s.Monitoring.RecentErrors(limit)
	if err != nil {
		s.Logger.Error("Failed to list recent errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recent errors"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"errors": errs})
}

func pathID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
