package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/danthegoodman1/kvsql/core"
	"github.com/danthegoodman1/kvsql/export"
	"github.com/danthegoodman1/kvsql/gologger"
	"github.com/danthegoodman1/kvsql/loader"
	"github.com/danthegoodman1/kvsql/metrics"
	"github.com/danthegoodman1/kvsql/session"
	"github.com/danthegoodman1/kvsql/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var logger = gologger.NewLogger()

type HTTPServer struct {
	Echo *echo.Echo

	gc       *core.GlobalContext
	sess     *session.Session
	loader   *loader.Loader
	exporter *export.Exporter
}

type Deps struct {
	GC       *core.GlobalContext
	Session  *session.Session
	Loader   *loader.Loader
	Exporter *export.Exporter
}

type CustomValidator struct {
	validator *validator.Validate
}

// New builds the server and its routes without listening.
func New(deps Deps) *HTTPServer {
	s := &HTTPServer{
		Echo:     echo.New(),
		gc:       deps.GC,
		sess:     deps.Session,
		loader:   deps.Loader,
		exporter: deps.Exporter,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.JSONSerializer = &utils.NoEscapeJSONSerializer{}

	s.Echo.Use(CreateReqContext)
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(MetricsMiddleware)
	s.Echo.Use(middleware.CORS())
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	// technical - no auth
	s.Echo.GET("/hc", s.HealthCheck)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tables := s.Echo.Group("/tables")
	tables.GET("", ccHandler(s.ListTables))
	tables.POST("", ccHandler(s.CreateTable))
	tables.GET("/:table", ccHandler(s.GetTable))
	tables.POST("/:table/rows", ccHandler(s.InsertRows))
	tables.POST("/:table/scan", ccHandler(s.Scan))
	tables.POST("/:table/explain", ccHandler(s.Explain))
	tables.POST("/:table/export", ccHandler(s.Export))
	tables.POST("/:table/merge", ccHandler(s.Merge))
	tables.GET("/:table/parts", ccHandler(s.ListParts))
	tables.GET("/:table/parts/:part", ccHandler(s.DownloadPart))

	return s
}

func StartHTTPServer(port string, deps Deps) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return nil, fmt.Errorf("error creating tcp listener: %w", err)
	}
	s := New(deps)
	s.Echo.Listener = listener
	go func() {
		logger.Info().Msg("starting h2c server on " + listener.Addr().String())
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("failed to start h2c server, exiting")
			os.Exit(1)
		}
	}()

	return s, nil
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func ValidateRequest(c echo.Context, s interface{}) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(s); err != nil {
		return err
	}
	return nil
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	return err
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			// default handler
			c.Error(err)
		}
		stop := time.Since(start)
		// Log otherwise
		logger := zerolog.Ctx(c.Request().Context())
		req := c.Request()
		res := c.Response()

		p := req.URL.Path
		if p == "" {
			p = "/"
		}

		cl := req.Header.Get(echo.HeaderContentLength)
		if cl == "" {
			cl = "0"
		}
		logger.Debug().Str("method", req.Method).Str("remote_ip", c.RealIP()).Str("req_uri", req.RequestURI).Str("handler_path", c.Path()).Str("path", p).Int("status", res.Status).Int64("latency_ns", int64(stop)).Str("protocol", req.Proto).Str("bytes_in", cl).Int64("bytes_out", res.Size).Msg("req received")
		return nil
	}
}

// MetricsMiddleware records request counts and latency by route. It runs
// inside LoggerMiddleware so the response status is final.
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		path := c.Path()
		metrics.RequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
		metrics.RequestTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(c.Response().Status)).Inc()
		return nil
	}
}
