package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bookhive/bookhive/internal/repo"
)

func (s *Server) handleListNotifications(c *gin.Context) {
	claims := claimsFrom(c)

	notifications, err := s.notifications.ListForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	claims := claimsFrom(c)

	count, err := s.notifications.UnreadCount(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	claims := claimsFrom(c)

	notificationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid notification id"})
		return
	}

	if err := s.notifications.MarkRead(c.Request.Context(), notificationID, claims.UserID); err != nil {
		if errors.Is(err, repo.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "notification marked as read"})
}

func (s *Server) handleMarkAllNotificationsRead(c *gin.Context) {
	claims := claimsFrom(c)

	count, err := s.notifications.MarkAllRead(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "all notifications marked as read", "count": count})
}
