package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/usecase"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

const (
	MaxConcurrent = 10

	downloadName = "reroom-design.png"
)

type DesignHandler struct {
	svc           *usecase.DesignService
	tokens        *TokenIssuer
	maxConcurrent int
}

type CreateSessionResponse struct {
	Token   string              `json:"token"`
	Type    string              `json:"type"`
	Session usecase.SessionView `json:"session"`
}

type ChatRequest struct {
	Text string `json:"text"`
}

type ConfirmRequest struct {
	Instruction string `json:"instruction"`
}

func NewDesignHandler(svc *usecase.DesignService, tokens *TokenIssuer, maxConcurrent int) *DesignHandler {
	if maxConcurrent <= 0 {
		maxConcurrent = MaxConcurrent
	}
	return &DesignHandler{svc: svc, tokens: tokens, maxConcurrent: maxConcurrent}
}

// Register mounts the design API on api, normally the /api/v1 group.
func (h *DesignHandler) Register(api *echo.Group) {
	api.GET("/health", h.HealthCheck)
	api.GET("/styles", h.ListStyles)
	api.POST("/sessions", h.CreateSession)

	session := api.Group("/session", h.tokens.Middleware)
	session.GET("", h.GetSession)
	session.DELETE("", h.Reset)
	session.GET("/image/current", h.DownloadCurrent)
	session.GET("/image/original", h.DownloadOriginal)
	session.POST("/styles/:id", h.SelectStyle)
	session.DELETE("/pending", h.CancelGeneration)
	session.GET("/messages/:id/speech", h.Speak)

	// Routes that call the remote models share a concurrency budget.
	limited := session.Group("", h.RateLimitMiddleware)
	limited.POST("/image", h.Upload)
	limited.POST("/pending/confirm", h.ConfirmGeneration)
	limited.POST("/chat", h.SendChat)
	limited.POST("/voice", h.SendVoice)
}

// RateLimitMiddleware rejects requests beyond the concurrency budget.
func (h *DesignHandler) RateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	semaphore := make(chan struct{}, h.maxConcurrent)
	return func(c echo.Context) error {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			return next(c)
		default:
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many concurrent requests")
		}
	}
}

func (h *DesignHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "reroom",
		"sessions":  h.svc.ActiveSessions(),
	})
}

func (h *DesignHandler) ListStyles(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Styles())
}

func (h *DesignHandler) CreateSession(c echo.Context) error {
	view := h.svc.CreateSession(c.Request().Context())

	token, err := h.tokens.Issue(view.ID)
	if err != nil {
		log.WithCtx(c.Request().Context()).Error("Issuing session token failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}

	return c.JSON(http.StatusCreated, CreateSessionResponse{Token: token, Type: "Bearer", Session: view})
}

func (h *DesignHandler) GetSession(c echo.Context) error {
	view, err := h.svc.View(sessionID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// Upload accepts the room photo as a multipart "image" field or as the raw
// request body.
func (h *DesignHandler) Upload(c echo.Context) error {
	raw, err := readImage(c)
	if err != nil {
		return err
	}

	view, err := h.svc.Upload(c.Request().Context(), sessionID(c), raw)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *DesignHandler) SelectStyle(c echo.Context) error {
	pending, err := h.svc.SelectStyle(c.Request().Context(), sessionID(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pending)
}

func (h *DesignHandler) ConfirmGeneration(c echo.Context) error {
	var req ConfirmRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
	}

	view, err := h.svc.ConfirmGeneration(c.Request().Context(), sessionID(c), req.Instruction)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *DesignHandler) CancelGeneration(c echo.Context) error {
	if err := h.svc.CancelGeneration(c.Request().Context(), sessionID(c)); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DesignHandler) SendChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	view, err := h.svc.SendChat(c.Request().Context(), sessionID(c), req.Text)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

// SendVoice takes LINEAR16 audio as the raw request body.
func (h *DesignHandler) SendVoice(c echo.Context) error {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, echo.MIMEOctetStream) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid content type. Expected audio/* or application/octet-stream")
	}

	audio, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read audio")
	}

	view, err := h.svc.SendVoice(c.Request().Context(), sessionID(c), audio)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *DesignHandler) Speak(c echo.Context) error {
	audio, err := h.svc.Speak(c.Request().Context(), sessionID(c), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Blob(http.StatusOK, "audio/mpeg", audio)
}

func (h *DesignHandler) Reset(c echo.Context) error {
	if err := h.svc.Reset(c.Request().Context(), sessionID(c)); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DesignHandler) DownloadCurrent(c echo.Context) error {
	return h.download(c, h.svc.CurrentImage)
}

func (h *DesignHandler) DownloadOriginal(c echo.Context) error {
	return h.download(c, h.svc.OriginalImage)
}

func (h *DesignHandler) download(c echo.Context, get func(string) (domain.Image, error)) error {
	img, err := get(sessionID(c))
	if err != nil {
		return toHTTPError(err)
	}

	etag := fmt.Sprintf("%q", h.svc.Digest(img))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", downloadName))
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.Blob(http.StatusOK, img.MIMEType, img.Data)
}

func readImage(c echo.Context) ([]byte, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		file, err := c.FormFile("image")
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "Missing image field")
		}
		src, err := file.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "Failed to read image")
		}
		defer src.Close()

		raw, err := io.ReadAll(src)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "Failed to read image")
		}
		return raw, nil
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Failed to read image")
	}
	return raw, nil
}

func sessionID(c echo.Context) string {
	id, _ := c.Get(SessionIDKey).(string)
	return id
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrUnknownStyle),
		errors.Is(err, domain.ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrNoPendingGeneration),
		errors.Is(err, domain.ErrNoImage):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnsupportedImage),
		errors.Is(err, domain.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrFeatureDisabled):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "Upstream timeout")
	default:
		log.With(zap.Error(err)).Error("Request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Internal error")
	}
}
