package http

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/fyrsmithlabs/orgrag/internal/ingest"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// pathParam returns an unescaped path parameter. Tenant ids and blob names
// may contain characters that must be percent-encoded in a path.
func pathParam(c echo.Context, name string) string {
	v := c.Param(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func (s *Server) chunkSettings(size, overlap *int) (int, int) {
	defSize, defOverlap := s.backend.ChunkDefaults()
	if size != nil {
		defSize = *size
	}
	if overlap != nil {
		defOverlap = *overlap
	}
	return defSize, defOverlap
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	var req CreateTenantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.backend.CreateTenant(c.Request().Context(), req.TenantID)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if res.IndexCreated || res.ContainerCreated {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func (s *Server) handleListTenants(c echo.Context) error {
	names, err := s.backend.ListTenants(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TenantListResponse{Tenants: names})
}

func (s *Server) handleTenantInfo(c echo.Context) error {
	info, err := s.backend.TenantInfo(c.Request().Context(), pathParam(c, "tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleDeleteTenant(c echo.Context) error {
	res, err := s.backend.DeleteTenant(c.Request().Context(), pathParam(c, "tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleIngestFiles(c echo.Context) error {
	var req IngestFilesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Directory == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "directory is required")
	}
	size, overlap := s.chunkSettings(req.ChunkSize, req.Overlap)
	res, err := s.backend.IngestFiles(c.Request().Context(), pathParam(c, "tenant"), req.Directory, size, overlap)
	return s.ingestResponse(c, res, err)
}

func (s *Server) handleIngestURL(c echo.Context) error {
	var req IngestURLRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	size, overlap := s.chunkSettings(req.ChunkSize, req.Overlap)
	res, err := s.backend.IngestURL(c.Request().Context(), pathParam(c, "tenant"), req.URL, size, overlap)
	return s.ingestResponse(c, res, err)
}

// ingestResponse renders a partial write as 207 with the result, so the
// caller still learns which chunks reached the index.
func (s *Server) ingestResponse(c echo.Context, res *ingest.Result, err error) error {
	var pwe *ingest.PartialWriteError
	if errors.As(err, &pwe) {
		s.logger.Warn("partial ingestion write", zap.Error(pwe.Err))
		if res == nil {
			res = pwe.Result
		}
		return c.JSON(http.StatusMultiStatus, IngestResponse{Result: res, MetadataError: pwe.Err.Error()})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IngestResponse{Result: res})
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	answer, err := s.backend.Ask(c.Request().Context(), pathParam(c, "tenant"), req.Question, req.K)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.backend.Stats(c.Request().Context(), pathParam(c, "tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListSources(c echo.Context) error {
	sources, err := s.backend.Sources(c.Request().Context(), pathParam(c, "tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SourceListResponse{Sources: sources})
}

func (s *Server) handleSourceDocuments(c echo.Context) error {
	docs, err := s.backend.SourceDocuments(c.Request().Context(), pathParam(c, "tenant"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DocumentListResponse{Documents: docs})
}

func (s *Server) handleDeleteSource(c echo.Context) error {
	id := c.Param("id")
	n, err := s.backend.DeleteSource(c.Request().Context(), pathParam(c, "tenant"), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DeleteSourceResponse{SourceID: id, DocumentsDeleted: n})
}

func (s *Server) handleUpdateDocumentStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	err := s.backend.UpdateDocumentStatus(c.Request().Context(), pathParam(c, "tenant"), c.Param("id"), req.Status, req.ErrorMessage)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListBlobs(c echo.Context) error {
	blobs, err := s.backend.ListBlobs(c.Request().Context(), pathParam(c, "tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BlobListResponse{Blobs: blobs})
}

func (s *Server) handleUploadBlob(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body")
	}
	if err := s.backend.UploadBlob(c.Request().Context(), pathParam(c, "tenant"), pathParam(c, "name"), data); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleDownloadBlob(c echo.Context) error {
	data, err := s.backend.DownloadBlob(c.Request().Context(), pathParam(c, "tenant"), pathParam(c, "name"))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) handleDeleteBlob(c echo.Context) error {
	if err := s.backend.DeleteBlob(c.Request().Context(), pathParam(c, "tenant"), pathParam(c, "name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
