// Package extractd exposes the validation stages over HTTP. Uploaded
// buffers are checked in memory and never stored, so nothing is
// quarantined in this mode.
package extractd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/segmentio/ksuid"

	"github.com/stupidcerts/pfxhunt/pkg/pfxng"
	"github.com/stupidcerts/pfxhunt/pkg/pipeline"
)

const defaultMaxBody = 10 << 20

// Validator is the part of the pipeline the server needs.
type Validator interface {
	Validate(c pipeline.Candidate) (*pfxng.Record, pipeline.State, error)
}

type Server struct {
	validator Validator
	maxBody   int64
	logger    *slog.Logger
}

type Option func(*Server)

func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func New(v Validator, opts ...Option) *Server {
	s := &Server{
		validator: v,
		maxBody:   defaultMaxBody,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RecordResponse struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Record    string `json:"record"`
	Algorithm string `json:"algorithm"`
}

// Error is the JSON body of every non-2xx response.
type Error struct {
	HttpStatus  int    `json:"-"`
	RequestID   string `json:"request_id,omitempty"`
	Code        string `json:"error"`
	Stage       string `json:"stage,omitempty"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.HttpStatus, e.Code, e.Description)
}

const requestIDKey = "request_id"

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(
		middleware.Recover(),
		s.requestID,
		s.errorHandler,
	)

	group.GET("/healthz", s.Health)
	group.POST("/v1/records", s.CreateRecord)
}

func (s *Server) requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := ksuid.New().String()
		c.Set(requestIDKey, id)
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		return next(c)
	}
}

func (s *Server) errorHandler(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return nil
		}
		id, _ := c.Get(requestIDKey).(string)

		var apiErr *Error
		var echoErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &echoErr):
			apiErr = &Error{
				HttpStatus:  echoErr.Code,
				Code:        "request_error",
				Description: fmt.Sprint(echoErr.Message),
			}
		default:
			apiErr = &Error{
				HttpStatus:  http.StatusInternalServerError,
				Code:        "server_error",
				Description: err.Error(),
			}
		}
		apiErr.RequestID = id

		level := slog.LevelInfo
		if apiErr.HttpStatus >= 500 {
			level = slog.LevelError
		}
		s.logger.Log(c.Request().Context(), level, "Request rejected",
			"request_id", id, "path", c.Path(), "status", apiErr.HttpStatus, "error", apiErr.Description)

		return c.JSON(apiErr.HttpStatus, apiErr)
	}
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRecord reads a raw PFX body and answers with its hash record. The
// name query parameter is used as the record's path; it defaults to
// upload.pfx.
func (s *Server) CreateRecord(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		name = "upload.pfx"
	}
	name = filepath.Base(name)

	body := http.MaxBytesReader(c.Response(), c.Request().Body, s.maxBody)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &Error{
				HttpStatus:  http.StatusRequestEntityTooLarge,
				Code:        "too_large",
				Description: fmt.Sprintf("body exceeds %d bytes", s.maxBody),
			}
		}
		return &Error{HttpStatus: http.StatusBadRequest, Code: "invalid_request", Description: err.Error()}
	}

	record, _, err := s.validator.Validate(pipeline.Candidate{Path: name, Data: data})
	if err != nil {
		apiErr := &Error{
			HttpStatus:  http.StatusUnprocessableEntity,
			Code:        "invalid_pfx",
			Description: err.Error(),
		}
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			apiErr.Stage = string(stageErr.Stage)
			apiErr.Description = stageErr.Err.Error()
		}
		return apiErr
	}

	id, _ := c.Get(requestIDKey).(string)
	s.logger.InfoContext(c.Request().Context(), "Cert found", "request_id", id, "name", name, "algorithm", string(record.Algorithm))

	return c.JSON(http.StatusOK, RecordResponse{
		RequestID: id,
		Name:      name,
		Record:    record.String(),
		Algorithm: string(record.Algorithm),
	})
}
