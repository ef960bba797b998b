package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bookhive/bookhive/internal/ledger"
)

// Stable API error codes, one per ledger error kind. The ledger taxonomy is
// preserved through the HTTP boundary, never collapsed into a generic 500.
const (
	codeNotFound      = "NOT_FOUND"
	codeUnavailable   = "UNAVAILABLE"
	codeDuplicateLoan = "DUPLICATE_ACTIVE_LOAN"
	codeBusy          = "BUSY"
	codeStoreError    = "STORE_ERROR"
)

func writeLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "message": "book not found"})
	case errors.Is(err, ledger.ErrBorrowingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "message": "active borrowing not found"})
	case errors.Is(err, ledger.ErrUnavailable):
		c.JSON(http.StatusConflict, gin.H{"code": codeUnavailable, "message": "no copies available"})
	case errors.Is(err, ledger.ErrDuplicateActiveLoan):
		c.JSON(http.StatusConflict, gin.H{"code": codeDuplicateLoan, "message": "you already borrowed this book"})
	case errors.Is(err, ledger.ErrBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": codeBusy, "message": "try again shortly"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": codeStoreError, "message": "internal error"})
	}
}
