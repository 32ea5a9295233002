package handler

import (
	"fmt"
	"net/http"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/pkg/auth"
	md "github.com/Astemirdum/library-circulation/pkg/middleware"
	"github.com/Astemirdum/library-circulation/pkg/validate"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	circulationSvc CirculationService
	sweeper        Sweeper
	log            *zap.Logger
}

func New(circulationSvc CirculationService, sweeper Sweeper, log *zap.Logger) *Handler {
	return &Handler{
		circulationSvc: circulationSvc,
		sweeper:        sweeper,
		log:            log.Named("handler"),
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig(h.log)),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
		md.AuthContext,
	)

	api.POST("/loans", h.Borrow, md.StaffOnly)
	api.POST("/loans/return", h.ReturnCopy, md.StaffOnly)
	api.POST("/loans/:loanId/renew", h.Renew)

	api.POST("/holds", h.PlaceHold)
	api.DELETE("/holds/:holdId", h.CancelHold)

	api.POST("/copies/:barcode/release", h.ReleaseCopy, md.StaffOnly)

	api.GET("/items/:itemId/availability", h.AvailableCount)
	api.GET("/items/:itemId/availability/stream", h.StreamAvailability)

	api.POST("/sweeps", h.Sweep, md.StaffOnly)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// errStatus maps business error kinds onto HTTP statuses.
func errStatus(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(err error) error {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("internal", zap.Error(err))
	}
	return echo.NewHTTPError(status, err.Error())
}

func identity(c echo.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "no identity")
	}
	return id, nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s is invalid", name))
	}
	return id, nil
}

func (h *Handler) Borrow(c echo.Context) error {
	staff, err := identity(c)
	if err != nil {
		return err
	}
	var req model.BorrowRequest
	if err = c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loan, err := h.circulationSvc.Borrow(c.Request().Context(), req.Barcode, req.MemberID, staff.UserID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, loan)
}

func (h *Handler) ReturnCopy(c echo.Context) error {
	staff, err := identity(c)
	if err != nil {
		return err
	}
	var req model.ReturnRequest
	if err = c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loan, err := h.circulationSvc.ReturnCopy(c.Request().Context(), req.Barcode, req.MemberID, req.Kind, staff.UserID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (h *Handler) Renew(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	loanID, err := uuidParam(c, "loanId")
	if err != nil {
		return err
	}
	loan, err := h.circulationSvc.Renew(c.Request().Context(), loanID, user.UserID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (h *Handler) PlaceHold(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	var req model.PlaceHoldRequest
	if err = c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hold, err := h.circulationSvc.PlaceHold(c.Request().Context(), req.ItemID, user.UserID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, hold)
}

func (h *Handler) CancelHold(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	holdID, err := uuidParam(c, "holdId")
	if err != nil {
		return err
	}
	if err = h.circulationSvc.CancelHold(c.Request().Context(), holdID, user.UserID); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ReleaseCopy(c echo.Context) error {
	barcode := c.Param("barcode")
	if barcode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errors.New("empty barcode"))
	}
	if err := h.circulationSvc.ReleaseCopy(c.Request().Context(), barcode); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AvailableCount(c echo.Context) error {
	itemID, err := uuidParam(c, "itemId")
	if err != nil {
		return err
	}
	cnt, err := h.circulationSvc.AvailableCount(c.Request().Context(), itemID)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, model.Availability{ItemID: itemID, AvailableCount: cnt})
}

// StreamAvailability pushes availability changes of an item as server-sent
// events until the client goes away.
func (h *Handler) StreamAvailability(c echo.Context) error {
	itemID, err := uuidParam(c, "itemId")
	if err != nil {
		return err
	}
	updates, err := h.circulationSvc.Subscribe(c.Request().Context(), itemID)
	if err != nil {
		return h.fail(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for a := range updates {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err = fmt.Fprintf(w, "event: availability\ndata: %s\n\n", data); err != nil {
			return nil
		}
		w.Flush()
	}
	return nil
}

func (h *Handler) Sweep(c echo.Context) error {
	rep, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, rep)
}
