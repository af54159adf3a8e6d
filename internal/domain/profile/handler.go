package profile

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/mapper/pkg/pagination"
)

const maxProfileBytes = 1 << 20

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/profiles/:sourceSystem", h.GetActive)
	api.GET("/profiles/:sourceSystem/versions", h.ListVersions)
	api.POST("/profiles", h.Publish)
	api.POST("/profiles/:sourceSystem/invalidate", h.Invalidate)
}

func (h *Handler) GetActive(c echo.Context) error {
	p, err := h.store.GetActive(c.Request().Context(), c.Param("sourceSystem"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, NewDocument(p))
}

// ListVersions pages through a source system's stored versions.
func (h *Handler) ListVersions(c echo.Context) error {
	versions, err := h.store.ListVersions(c.Request().Context(), c.Param("sourceSystem"))
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	start, end := pg.Window(len(versions))
	return c.JSON(http.StatusOK, pagination.NewResponse(versions[start:end], len(versions), pg))
}

// Publish accepts a YAML (application/yaml, text/yaml) or JSON document.
func (h *Handler) Publish(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxProfileBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	var p *Profile
	if strings.Contains(c.Request().Header.Get(echo.HeaderContentType), "yaml") {
		p, err = DecodeYAML(body)
	} else {
		p, err = DecodeJSON(body)
	}
	if err != nil {
		return httpError(err)
	}

	if err := h.store.Publish(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"profile_id":    p.ProfileID,
		"source_system": p.SourceSystem,
		"version":       p.Version,
	})
}

func (h *Handler) Invalidate(c echo.Context) error {
	h.store.Invalidate(c.Param("sourceSystem"))
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	var (
		notFound *ProfileNotFoundError
		invalid  *InvalidProfileError
		conflict *VersionConflictError
	)
	switch {
	case errors.As(err, &notFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
