package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"rewards-backend/apperr"
	"rewards-backend/auth"
	"rewards-backend/middleware"
	"rewards-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// respondError renders a core error as {"error": code, "message": text}.
// Internal causes are logged through the gin error list, never returned.
func respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	body := gin.H{"error": apperr.Code(err), "message": apperr.Message(err)}
	if apperr.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": apperr.ErrValidation.Code, "message": utils.SanitizeValidationError(err)})
}

func currentAuth(c *gin.Context) (auth.Context, bool) {
	ac, ok := middleware.CurrentAuth(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Unauthorized"})
		return auth.Context{}, false
	}
	return ac, true
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperr.ErrValidation.Code, "message": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads page and limit query parameters. Services clamp the values.
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return page, limit
}

var errNoBody = errors.New("empty body")

// bindOptionalJSON decodes a body when one was sent.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return errNoBody
	}
	return c.ShouldBindJSON(v)
}
