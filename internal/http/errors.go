package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/fyrsmithlabs/orgrag/internal/blobstore"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/ingest"
	"github.com/fyrsmithlabs/orgrag/internal/knowledge"
	"github.com/fyrsmithlabs/orgrag/internal/llm"
	"github.com/fyrsmithlabs/orgrag/internal/retrieval"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/scraper"
	"github.com/fyrsmithlabs/orgrag/internal/tenant"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var (
	notFoundErrors = []error{
		vectorindex.ErrIndexNotFound,
		blobstore.ErrContainerNotFound,
		blobstore.ErrBlobNotFound,
		knowledge.ErrNotFound,
		fs.ErrNotExist,
	}

	badRequestErrors = []error{
		config.ErrConfiguration,
		sanitize.ErrInvalidTenantID,
		sanitize.ErrInvalidBlobName,
		sanitize.ErrPathTraversal,
		sanitize.ErrEmptyPath,
		retrieval.ErrEmptyQuestion,
		scraper.ErrInvalidURL,
		knowledge.ErrInvalidRecord,
		vectorindex.ErrInvalidIndexName,
		blobstore.ErrInvalidContainerName,
	}

	upstreamErrors = []error{
		ingest.ErrUpstream,
		retrieval.ErrUpstream,
		llm.ErrGenerationFailed,
		vectorindex.ErrConnectionFailed,
	}
)

// StatusFor maps an operation error to an HTTP status. Not-found is checked
// before upstream, so a question against a missing index is a 404.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ingest.ErrPartialWrite):
		return http.StatusMultiStatus
	case errors.Is(err, tenant.ErrNamespaceCollision),
		errors.Is(err, knowledge.ErrNamespaceClaimed),
		errors.Is(err, knowledge.ErrInvalidTransition):
		return http.StatusConflict
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrNoContent):
		return http.StatusUnprocessableEntity
	case isAny(err, upstreamErrors):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// handleError renders every error as an ErrorResponse. Internal errors
// are logged and their text withheld from the client.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := StatusFor(err)
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, ErrorResponse{Error: msg})
	}
	if werr != nil {
		s.logger.Warn("failed to write error response", zap.Error(werr))
	}
}
