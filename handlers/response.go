package handlers

import (
	stdjson "encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// respondError maps service errors onto the API error bodies. Unexpected
// errors only carry their detail when gin runs in debug mode.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	default:
		message := "Something went wrong"
		if gin.IsDebugging() {
			message = err.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": message})
	}
}

// respondBindError reports a request body that failed to decode or validate.
func respondBindError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		verrs       validator.ValidationErrors
		typeErr     *json.UnmarshalTypeError
		stdTypeErr  *stdjson.UnmarshalTypeError
		tooLarge    *http.MaxBytesError
		field, what string
	)
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	case errors.As(err, &verrs) && len(verrs) > 0:
		field = verrs[0].Field()
		what = bindingMessage(verrs[0])
	case errors.As(err, &typeErr):
		field, what = typeErr.Field, "has the wrong type"
	case errors.As(err, &stdTypeErr):
		field, what = stdTypeErr.Field, "has the wrong type"
	case errors.Is(err, io.EOF):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required"})
		return
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed JSON body"})
		return
	}
	verr := &services.ValidationError{Field: field, Message: what}
	c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": field})
}

func bindingMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be a positive integer"
	default:
		return "is invalid"
	}
}

// parseID reads a positive integer path parameter, answering 400 otherwise.
func parseID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name + ": must be a positive integer",
			"field": name,
		})
		return 0, false
	}
	return uint(id), true
}
