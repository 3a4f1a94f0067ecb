package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moogar0880/problems"

	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const problemContentType = "application/problem+json"

func writeProblem(c *gin.Context, status int, problemType, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Request.URL.Path).
		WithType(problemType).
		WithDetail(detail)

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, problem)
}

func badRequest(c *gin.Context, detail string) {
	writeProblem(c, http.StatusBadRequest, "validation_error", detail)
}

// handleServiceError maps application errors to problem documents
func (h *Handlers) handleServiceError(c *gin.Context, err error) {
	switch {
	case workflow.IsValidation(err):
		writeProblem(c, http.StatusBadRequest, "validation_error", err.Error())

	case workflow.IsNotFound(err):
		writeProblem(c, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, entity.ErrConflict):
		writeProblem(c, http.StatusConflict, "conflict", err.Error())

	default:
		// Log unexpected errors but don't expose details
		h.logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)

		problem := problems.NewStatusProblem(http.StatusInternalServerError).
			WithInstance(c.Request.URL.Path).
			WithType("internal_error")

		c.Header("Content-Type", problemContentType)
		c.AbortWithStatusJSON(http.StatusInternalServerError, problem)
	}
}
