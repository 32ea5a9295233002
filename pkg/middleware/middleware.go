package middleware

import (
	"net/http"

	"github.com/Astemirdum/library-circulation/pkg/auth"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// AuthContext trusts the identity headers set by the gateway in front of the service.
func AuthContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		userID, err := uuid.Parse(req.Header.Get(auth.XUserIDHeader))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "user-id is empty or invalid")
		}
		role := req.Header.Get(auth.XUserRoleHeader)
		if role == "" {
			role = auth.RolePatron
		}
		ctx := auth.SetAuthContext(req.Context(), userID, role)
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func StaffOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !auth.IsStaff(c.Request().Context()) {
			return echo.NewHTTPError(http.StatusForbidden, "staff role required")
		}
		return next(c)
	}
}

func NewRateLimiter(rps rate.Limit) echo.MiddlewareFunc {
	return middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rps))
}

func RequestLoggerConfig(log *zap.Logger) middleware.RequestLoggerConfig {
	log = log.Named("echo")
	return middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		HandleError:  true,
		LogError:     true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := zapcore.InfoLevel
			if v.Error != nil {
				level = zapcore.ErrorLevel
			}
			log.Log(level, "request",
				zap.String("URI", v.URI),
				zap.String("Method", v.Method),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}
}
