package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mitihani/core/packet"
)

func registerDashboardAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc packet.Service) {
	g.GET("/dashboard/stats", func(ctx echo.Context) error {
		filter, err := bindQueryFilter(ctx)
		if err != nil {
			return err
		}
		stats, err := svc.DashboardStats(ctx.Request().Context(), filter)
		if err != nil {
			return errors.Wrap(err, "computing dashboard stats")
		}
		return ctx.JSON(http.StatusOK, stats)
	}, jwt)
}
