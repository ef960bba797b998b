package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleBorrow(c *gin.Context) {
	claims := claimsFrom(c)
	isbn := c.Param("isbn")

	borrowingID, err := s.ledger.Borrow(c.Request.Context(), isbn, claims.UserID)
	if err != nil {
		writeLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "book borrowed",
		"borrowing_id": borrowingID,
	})
}

func (s *Server) handleCancelBorrowing(c *gin.Context) {
	claims := claimsFrom(c)

	borrowingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid borrowing id"})
		return
	}

	if err := s.ledger.Cancel(c.Request.Context(), borrowingID, claims.UserID); err != nil {
		writeLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "borrowing canceled"})
}

func (s *Server) handleReturnBorrowing(c *gin.Context) {
	borrowingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid borrowing id"})
		return
	}

	if err := s.ledger.Return(c.Request.Context(), borrowingID); err != nil {
		writeLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "book marked as returned"})
}

func (s *Server) handleMyBorrowings(c *gin.Context) {
	claims := claimsFrom(c)

	borrowings, err := s.borrowings.ListForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"borrowings": borrowings})
}

func (s *Server) handleUserStats(c *gin.Context) {
	claims := claimsFrom(c)

	stats, err := s.borrowings.StatsForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListAllBorrowings(c *gin.Context) {
	borrowings, err := s.borrowings.ListAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"borrowings": borrowings})
}

func (s *Server) handleDashboardStats(c *gin.Context) {
	stats, err := s.borrowings.DashboardStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
