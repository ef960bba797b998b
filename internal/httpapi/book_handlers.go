package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bookhive/bookhive/internal/auth"
	"github.com/bookhive/bookhive/internal/db"
	"github.com/bookhive/bookhive/internal/repo"
)

func (s *Server) handleListBooks(c *gin.Context) {
	books, err := s.books.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (s *Server) handleSearchBooks(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "query parameter q is required"})
		return
	}

	books, err := s.books.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (s *Server) handleGetBook(c *gin.Context) {
	book, err := s.books.Get(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		if errors.Is(err, repo.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "book not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, book)
}

type createBookRequest struct {
	ISBN            string `json:"isbn" binding:"required"`
	Title           string `json:"title" binding:"required"`
	Author          string `json:"author" binding:"required"`
	Language        string `json:"language"`
	PublicationDate string `json:"publication_date"`
	Description     string `json:"description"`
	Quantity        int    `json:"quantity" binding:"required,min=1"`
}

func (s *Server) handleCreateBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	book := db.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		Language:        req.Language,
		PublicationDate: req.PublicationDate,
		Description:     req.Description,
		QuantityTotal:   req.Quantity,
	}

	if err := s.books.Create(c.Request.Context(), &book); err != nil {
		if errors.Is(err, repo.ErrBookAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"message": "a book with this ISBN already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	// Fire-and-forget announcement; the notifier turns it into reader
	// notifications. A broker failure never undoes the catalog insert.
	if s.publisher != nil {
		if err := s.publisher.PublishBookAdded(c.Request.Context(), book.ISBN, book.Title, book.Author); err != nil {
			s.log.Warn("Failed to announce new book", zap.String("isbn", book.ISBN), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"message": "book created", "isbn": book.ISBN})
}

type updateBookRequest struct {
	Title           string `json:"title" binding:"required"`
	Author          string `json:"author" binding:"required"`
	Language        string `json:"language"`
	PublicationDate string `json:"publication_date"`
	Description     string `json:"description"`
}

func (s *Server) handleUpdateBook(c *gin.Context) {
	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	book := db.Book{
		Title:           req.Title,
		Author:          req.Author,
		Language:        req.Language,
		PublicationDate: req.PublicationDate,
		Description:     req.Description,
	}

	if err := s.books.UpdateMetadata(c.Request.Context(), c.Param("isbn"), &book); err != nil {
		if errors.Is(err, repo.ErrBookNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "book not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "book updated"})
}

func (s *Server) handleDeleteBook(c *gin.Context) {
	err := s.books.Delete(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrBookNotFound):
			c.JSON(http.StatusNotFound, gin.H{"message": "book not found"})
		case errors.Is(err, repo.ErrBookHasActiveLoans):
			c.JSON(http.StatusConflict, gin.H{"message": "book has active borrowings"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "book deleted"})
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type createUserRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone"`
	CIN       string `json:"cin"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=admin reader"`
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error("Failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	user := db.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Phone:        req.Phone,
		CIN:          req.CIN,
		PasswordHash: hash,
		Role:         req.Role,
	}

	if err := s.users.Create(c.Request.Context(), &user); err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"message": "email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "email": user.Email, "role": user.Role})
}

func (s *Server) handleGetUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid user id"})
		return
	}

	user, err := s.users.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleUpdateUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid user id"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := s.users.UpdateProfile(c.Request.Context(), id, req.FirstName, req.LastName, req.Phone); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid user id"})
		return
	}

	if err := s.users.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}
