package web

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"tidewater.systems/callintake/cmd/web/handlers/api/bulkimport_api"
	"tidewater.systems/callintake/cmd/web/handlers/api/fileserver"
	"tidewater.systems/callintake/internal/blob"
	"tidewater.systems/callintake/internal/bulkimport"
)

type Webserver struct {
	*echo.Echo
	store     bulkimport.Store
	blobs     *blob.Store
	apiTokens map[string]struct{}
}

func NewWebserver(store bulkimport.Store, blobs *blob.Store, apiTokens string) (*Webserver, error) {
	e := echo.New()

	webserver := &Webserver{
		Echo:      e,
		store:     store,
		blobs:     blobs,
		apiTokens: parseCommaSeparatedSet(apiTokens),
	}

	if len(webserver.apiTokens) == 0 {
		slog.Info("API_TOKENS not set; bulk import API is open (intended for local development only)")
	}

	webserver.registerRoutes()

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}

	return webserver, nil
}

func parseCommaSeparatedSet(raw string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("2M"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Status polling and audio fetches are high-volume noise.
			switch c.Path() {
			case "/api/bulk-import/status/:id", "/api/files/:handle":
				return true
			default:
				return false
			}
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))

	return nil
}

// requireAPIBearerToken guards the operator API. When no tokens are
// configured the check is a no-op so local development works without setup.
func (s *Webserver) requireAPIBearerToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(s.apiTokens) == 0 {
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if _, ok := s.apiTokens[token]; !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}

func (s *Webserver) registerRoutes() {
	importGroup := s.Group("/api/bulk-import")
	importGroup.Use(s.requireAPIBearerToken)
	importGroup.POST("/start", bulkimport_api.HandleStart(s.store))
	importGroup.GET("/status/:id", bulkimport_api.HandleStatus(s.store))
	importGroup.GET("/jobs", bulkimport_api.HandleIndex(s.store))
	importGroup.POST("/retranscribe/:call_record_id", bulkimport_api.HandleRetranscribe(s.store))

	// Audio links carry their own signature; no bearer token here.
	s.GET("/api/files/:handle", fileserver.HandleAudio(s.blobs))

	s.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
