package followup

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rtclinic/followup/internal/platform/auth"
	"github.com/rtclinic/followup/internal/platform/tablestore"
	"github.com/rtclinic/followup/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – clinician, researcher
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleResearcher))
	readGroup.GET("/followups", h.ListFollowUps)
	readGroup.GET("/followups/options", h.GetOptions)
	readGroup.GET("/followups/export", h.ExportFollowUps)
	readGroup.GET("/followups/:mrn", h.GetPrefill)
	readGroup.GET("/followups/:mrn/record", h.GetRecord)
	readGroup.GET("/followups/:mrn/history", h.GetHistory)

	// Write endpoints – clinician
	writeGroup := api.Group("", auth.RequireRole(auth.RoleClinician))
	writeGroup.POST("/followups/calculate", h.Calculate)
	writeGroup.POST("/followups", h.SubmitFollowUp)
}

func (h *Handler) ListFollowUps(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("mrn"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetOptions(c echo.Context) error {
	return c.JSON(http.StatusOK, Options)
}

// GetPrefill returns a form seeded from the patient's latest visit.
func (h *Handler) GetPrefill(c echo.Context) error {
	f, ok, err := h.svc.Prefill(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no follow-up recorded for this MRN")
	}
	return c.JSON(http.StatusOK, f)
}

// GetRecord returns the first row stored for the MRN, as the table holds it.
func (h *Handler) GetRecord(c echo.Context) error {
	rec, ok, err := h.svc.Lookup(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no follow-up recorded for this MRN")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetHistory(c echo.Context) error {
	visits, err := h.svc.History(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	if visits == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no follow-up recorded for this MRN")
	}
	return c.JSON(http.StatusOK, visits)
}

func (h *Handler) Calculate(c echo.Context) error {
	var f Form
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.Calculate(f))
}

func (h *Handler) SubmitFollowUp(c echo.Context) error {
	var f Form
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Submit(c.Request().Context(), f)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		if errors.Is(err, tablestore.ErrUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable,
				"follow-up table is unreachable, nothing was saved").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

var exportContentTypes = map[string]string{
	FormatCSV:  "text/csv",
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func (h *Handler) ExportFollowUps(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	if format == "" {
		format = FormatCSV
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or xlsx")
	}

	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), &buf, format); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="followups.`+format+`"`)
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}
