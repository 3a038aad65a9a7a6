package server

import (
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"sunledger/internal/core/domain"
)

const requestTimeout = 10 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/about", s.AboutHandler)
	e.GET("/api/home", s.HomeStateHandler)
	e.GET("/api/devices", s.DeviceListHandler)
	e.PUT("/api/devices/:id/power_mode", s.SetPowerModeHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) AboutHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":    "sunledger",
		"version": versioninfo.Short(),
	})
}

func (s *Server) HomeStateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.HomeStateRequest{}, requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.HomeStateResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response.Home)
}

func (s *Server) DeviceListHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.DeviceListRequest{}, requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.DeviceListResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return echo.NewHTTPError(http.StatusInternalServerError, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response.Devices)
}

type setPowerModeBody struct {
	PowerMode string `json:"power_mode"`
}

func (s *Server) SetPowerModeHandler(c echo.Context) error {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid device id")
	}
	var body setPowerModeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	powerMode, err := domain.ParsePowerMode(body.PowerMode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetPowerModeRequest{
		DeviceID:  deviceID,
		PowerMode: powerMode,
	}, requestTimeout).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.SetPowerModeResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		if domain.IsUnknownDeviceError(response.GetResponseError()) {
			return echo.NewHTTPError(http.StatusNotFound, response.GetResponseError().Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, response.GetResponseError().Error())
	}
	return c.JSON(http.StatusOK, response)
}
