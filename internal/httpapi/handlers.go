// Package httpapi serves the SDK session as a small JSON API over echo.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mtgjson/mtgjson-go/internal/booster"
	"github.com/mtgjson/mtgjson-go/internal/core/auth"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/types"
)

// MaxPacks bounds ?packs= on the open endpoint.
const MaxPacks = 36

// Session is what the handlers need from *sdk.Session.
type Session interface {
	Meta(ctx context.Context) (any, error)
	Views() []string
	Set(ctx context.Context, code string) (types.Row, error)
	Booster() *booster.Simulator
}

type Handler struct {
	session Session
	log     *slog.Logger
}

func NewHandler(session Session) *Handler {
	return &Handler{session: session, log: logging.WithComponent("http")}
}

// New builds an echo instance with every route registered. A nil
// authenticator leaves /api open.
func New(session Session, authenticator *auth.Authenticator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := NewHandler(session)
	e.HTTPErrorHandler = h.handleError
	e.Use(middleware.Recover())
	e.Use(h.logRequests)
	h.RegisterRoutes(e, authenticator)
	return e
}

func (h *Handler) RegisterRoutes(e *echo.Echo, authenticator *auth.Authenticator) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")
	if authenticator != nil {
		api.Use(requireKey(authenticator))
	}
	api.GET("/meta", h.GetMeta)
	api.GET("/views", h.GetViews)
	api.GET("/sets/:code", h.GetSet)
	api.GET("/sets/:code/boosters", h.GetBoosterTypes)
	api.GET("/sets/:code/boosters/:type/open", h.OpenBoosters)
	api.GET("/sets/:code/boosters/:type/sheets/:sheet", h.GetSheet)
}

// --- HANDLERS ---

func (h *Handler) GetMeta(c echo.Context) error {
	meta, err := h.session.Meta(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *Handler) GetViews(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"views": h.session.Views()})
}

func (h *Handler) GetSet(c echo.Context) error {
	row, err := h.session.Set(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, row)
}

func (h *Handler) GetBoosterTypes(c echo.Context) error {
	code := c.Param("code")
	kinds, err := h.session.Booster().AvailableTypes(c.Request().Context(), code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"set": code, "types": kinds})
}

// OpenBoosters opens ?packs=N packs (default 1).
func (h *Handler) OpenBoosters(c echo.Context) error {
	packs := 1
	if raw := c.QueryParam("packs"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxPacks {
			return types.InvalidArgument("packs must be an integer between 1 and %d", MaxPacks)
		}
		packs = n
	}

	code, kind := c.Param("code"), c.Param("type")
	box, err := h.session.Booster().OpenBox(c.Request().Context(), code, kind, packs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"set": code, "type": kind, "packs": box})
}

func (h *Handler) GetSheet(c echo.Context) error {
	code, kind, name := c.Param("code"), c.Param("type"), c.Param("sheet")
	sheet, err := h.session.Booster().Sheet(c.Request().Context(), code, kind, name)
	if err != nil {
		return err
	}
	if sheet == nil {
		return types.NotFound("sheet %q for %s %s", name, code, kind)
	}

	cards := make(map[string]int64, len(sheet.Cards))
	for _, wc := range sheet.Cards {
		cards[wc.UUID] = wc.Weight
	}
	return c.JSON(http.StatusOK, map[string]any{
		"name":       sheet.Name,
		"properties": sheet.Props,
		"cards":      cards,
	})
}

// --- MIDDLEWARE ---

func requireKey(a *auth.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := a.Authenticate(c.Request().Header.Get(auth.HeaderName))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithKeyID(req.Context(), id)))
			return next(c)
		}
	}
}

func (h *Handler) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		h.log.Info("request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start))
		return nil
	}
}

// handleError maps the SDK error taxonomy onto HTTP status codes and writes
// {"error": message}.
func (h *Handler) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = http.StatusText(code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, types.ErrNetwork):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}
