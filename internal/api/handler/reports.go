package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/scanguard/internal/api/middleware"
	"github.com/kiranshivaraju/scanguard/internal/api/response"
	"github.com/kiranshivaraju/scanguard/internal/apikey"
	"github.com/kiranshivaraju/scanguard/internal/store"
	"github.com/kiranshivaraju/scanguard/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ReportReader defines the report queries the handlers depend on.
type ReportReader interface {
	ListReports(ctx context.Context, filter store.ReportFilter) ([]*models.Report, int, error)
	GetReport(ctx context.Context, id uuid.UUID, ownerID string) (*models.Report, error)
	DeleteReport(ctx context.Context, id uuid.UUID, ownerID string) error
}

// NewListReportsHandler returns an http.HandlerFunc for GET /api/v1/reports.
func NewListReportsHandler(rs ReportReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "MISSING_API_KEY", "API key required", nil)
			return
		}

		q := r.URL.Query()
		kind := q.Get("kind")
		if kind != "" && kind != models.ReportKindFile && kind != models.ReportKindURL {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "kind must be file or url", nil)
			return
		}

		page, err := intParam(q.Get("page"), 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := intParam(q.Get("limit"), defaultPageSize)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}

		reports, total, err := rs.ListReports(r.Context(), store.ReportFilter{
			OwnerID: p.OwnerID,
			Kind:    kind,
			Page:    page,
			Limit:   limit,
		})
		if err != nil {
			slog.Error("listing reports", "owner_id", p.OwnerID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reports", nil)
			return
		}
		if reports == nil {
			reports = []*models.Report{}
		}

		response.Collection(w, reports, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetReportHandler returns an http.HandlerFunc for GET /api/v1/reports/{reportID}.
func NewGetReportHandler(rs ReportReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := reportTarget(w, r)
		if !ok {
			return
		}

		report, err := rs.GetReport(r.Context(), id, p.OwnerID)
		if err != nil {
			writeReportError(w, id, err)
			return
		}
		response.JSON(w, report)
	}
}

// NewDeleteReportHandler returns an http.HandlerFunc for DELETE /api/v1/reports/{reportID}.
func NewDeleteReportHandler(rs ReportReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := reportTarget(w, r)
		if !ok {
			return
		}

		if err := rs.DeleteReport(r.Context(), id, p.OwnerID); err != nil {
			writeReportError(w, id, err)
			return
		}
		response.NoContent(w)
	}
}

func reportTarget(w http.ResponseWriter, r *http.Request) (*apikey.Principal, uuid.UUID, bool) {
	p, ok := mw.GetPrincipal(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "MISSING_API_KEY", "API key required", nil)
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "reportID must be a valid UUID", nil)
		return nil, uuid.Nil, false
	}
	return p, id, true
}

func writeReportError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
		return
	}
	slog.Error("report lookup failed", "report_id", id, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load report", nil)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
