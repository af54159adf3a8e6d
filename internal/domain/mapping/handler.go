package mapping

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/mapper/internal/domain/profile"
)

// ConversionIDHeader lets callers correlate a run with their own records.
const ConversionIDHeader = "X-Conversion-ID"

const maxInputBytes = 4 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/mappings/:sourceSystem", h.Execute)
}

// Execute maps the request body, a JSON record, CSV rows or an HL7 v2
// message selected by Content-Type, with the source system's active profile.
// Runs that cannot start answer 4xx/5xx with a failed result naming the
// error kind.
func (h *Handler) Execute(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxInputBytes))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	conversionID := c.Request().Header.Get(ConversionIDHeader)
	if conversionID == "" {
		conversionID = uuid.New().String()
	}
	c.Response().Header().Set(ConversionIDHeader, conversionID)

	in, err := DecodeInput(FormatFromContentType(c.Request().Header.Get(echo.HeaderContentType)), body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, FailedResult(conversionID, KindMalformedInput, err))
	}

	res, err := h.svc.ExecuteMapping(c.Request().Context(), in, c.Param("sourceSystem"), conversionID)
	if err != nil {
		if res == nil {
			res = FailedResult(conversionID, KindProfileUnavailable, err)
		}
		return c.JSON(statusFor(err), res)
	}
	return c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	var notFound *profile.ProfileNotFoundError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
