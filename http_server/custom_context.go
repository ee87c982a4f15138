package http_server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danthegoodman1/kvsql/export"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/loader"
	"github.com/danthegoodman1/kvsql/metastore"
	"github.com/danthegoodman1/kvsql/partitioner"
	"github.com/danthegoodman1/kvsql/scanerr"
	"github.com/danthegoodman1/kvsql/utils"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type CustomContext struct {
	echo.Context
	RequestID string
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id"`
}

func CreateReqContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := uuid.NewString()
		ctx := context.WithValue(c.Request().Context(), gologger.ReqIDKey, reqID)
		ctx = logger.WithContext(ctx)
		c.SetRequest(c.Request().WithContext(ctx))
		logger := zerolog.Ctx(ctx)
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("reqID", reqID)
		})
		c.Response().Header().Set(echo.HeaderXRequestID, reqID)
		cc := &CustomContext{
			Context:   c,
			RequestID: reqID,
		}
		return next(cc)
	}
}

// Casts to custom context for the handler, so this doesn't have to be done per handler
func ccHandler(h func(*CustomContext) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h(c.(*CustomContext))
	}
}

func (c *CustomContext) internalErrorMessage() string {
	return "internal error, request id: " + c.RequestID
}

func (c *CustomContext) InternalError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		zerolog.Ctx(c.Request().Context()).Warn().CallerSkipFrame(1).Msg(err.Error())
	} else {
		zerolog.Ctx(c.Request().Context()).Error().CallerSkipFrame(1).Err(err).Msg(msg)
	}
	return c.String(http.StatusInternalServerError, c.internalErrorMessage())
}

// Fail answers with the status err maps to. Failures the caller cannot fix
// go through InternalError.
func (c *CustomContext) Fail(err error, msg string) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, metastore.ErrTableNotFound), errors.Is(err, metastore.ErrPartNotFound):
		status = http.StatusNotFound
	case errors.Is(err, metastore.ErrTableExists):
		status = http.StatusConflict
	case errors.Is(err, scanerr.ErrPlanning),
		errors.Is(err, loader.ErrUnknownColumn),
		errors.Is(err, loader.ErrTypeMismatch),
		errors.Is(err, loader.ErrNullValue),
		errors.Is(err, export.ErrNoExportableColumns),
		errors.Is(err, partitioner.ErrFuncNotFound),
		errors.Is(err, partitioner.ErrMissingArgs),
		errors.Is(err, partitioner.ErrMissingColumns),
		errors.Is(err, partitioner.ErrInvalidColumnType),
		utils.IsPermanent(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		return c.InternalError(err, msg)
	}
	zerolog.Ctx(c.Request().Context()).Debug().Err(err).Int("status", status).Msg(msg)
	res := errorResponse{
		Error:     err.Error(),
		RequestID: c.RequestID,
	}
	if kind := scanerr.Kind(err); kind != "other" {
		res.Kind = kind
	}
	return c.JSON(status, res)
}
