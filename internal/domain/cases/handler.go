package cases

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/domain/identity"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/pkg/pagination"
)

type Handler struct {
	engine *WorkflowEngine
}

func NewHandler(engine *WorkflowEngine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cases", auth.RequireRole("technician", "scientist", "doctor"))

	g.POST("", h.CreateCase)
	g.GET("", h.ListCases)
	g.GET("/:id", h.GetCase)
	g.POST("/:id/assign", h.AssignCase)
	g.POST("/:id/view", h.ViewCase)
	g.POST("/:id/cancel", h.CancelCase)
	g.POST("/:id/complete", h.CompleteCase)
	g.GET("/:id/assignments", h.ListAssignments)
	g.GET("/:id/audits", h.ListAudits)
	g.GET("/:id/versions", h.ListVersions)
	g.POST("/:id/versions", h.CreateVersion)
	g.POST("/:id/documents", h.UploadDocument)
	g.GET("/:id/documents", h.ListDocuments)
	g.GET("/:id/documents/:doc_id", h.DownloadDocument)
	g.DELETE("/:id/documents/:doc_id", h.DeleteDocument)
}

// actorFromContext rebuilds the acting-user triple from what the auth and
// hospital middlewares put on the request context.
func actorFromContext(c echo.Context) (identity.Actor, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return identity.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
	}
	role, err := identity.ParseRole(auth.RoleFromContext(ctx))
	if err != nil {
		return identity.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid user role")
	}
	return identity.Actor{ID: id, Role: role, HospitalID: db.HospitalFromContext(ctx)}, nil
}

func caseIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	return id, nil
}

// httpError maps engine errors to responses. Forbidden deliberately becomes
// the same 404 as not-found, so responses never confirm that a case exists.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "case was modified concurrently, reload and retry")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func (h *Handler) CreateCase(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.engine.Create(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListCases(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	var f ListFilter
	f.Status = Status(c.QueryParam("status"))
	f.Priority = Priority(c.QueryParam("priority"))
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.engine.List(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetCase(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	found, err := h.engine.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, found)
}

func (h *Handler) AssignCase(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	var in AssignInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.engine.Assign(c.Request().Context(), actor, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ViewCase(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	updated, err := h.engine.MarkViewed(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) CancelCase(c echo.Context) error {
	return h.closeCase(c, h.engine.Cancel)
}

func (h *Handler) CompleteCase(c echo.Context) error {
	return h.closeCase(c, h.engine.Complete)
}

func (h *Handler) closeCase(c echo.Context, op func(context.Context, identity.Actor, uuid.UUID) (*Case, error)) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	updated, err := op(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	items, err := h.engine.ListAssignments(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListAudits(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.engine.ListAudits(c.Request().Context(), actor, id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListVersions(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	items, err := h.engine.ListVersions(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateVersion(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes *string `json:"notes,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.engine.NewVersion(c.Request().Context(), actor, id, body.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) UploadDocument(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read file")
	}
	contentType := fileHeader.Header.Get("Content-Type")
	doc, err := h.engine.AttachDocument(c.Request().Context(), actor, id, fileHeader.Filename, contentType, data)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) ListDocuments(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	items, err := h.engine.ListDocuments(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DownloadDocument(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	docID, err := uuid.Parse(c.Param("doc_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	doc, data, err := h.engine.GetDocument(c.Request().Context(), actor, id, docID)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+doc.FileName+`"`)
	return c.Blob(http.StatusOK, doc.ContentType, data)
}

func (h *Handler) DeleteDocument(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := caseIDParam(c)
	if err != nil {
		return err
	}
	docID, err := uuid.Parse(c.Param("doc_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	if err := h.engine.DeleteDocument(c.Request().Context(), actor, id, docID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
