package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mitihani/core/packet"
)

type packetApi struct {
	svc packet.Service
}

func registerPacketAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc packet.Service) {
	api := packetApi{svc: svc}

	pg := g.Group("/packets", jwt)
	pg.POST("", api.create, operatorMiddleware())
	pg.GET("", api.query)
	pg.GET("/barcode/:barcode", api.retrieveByBarcode)

	// detail endpoints
	dg := pg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.GET("/detail", api.detail)
	dg.GET("/handovers", api.queryHandovers)
	dg.POST("/handovers", api.recordHandover, operatorMiddleware())
	dg.PATCH("/status", api.overrideStatus, adminMiddleware())
}

// Handlers

func (api *packetApi) create(ctx echo.Context) error {
	var data packet.NewPacket
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPacket")
	}

	pkt, err := api.svc.CreatePacket(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating packet")
	}
	return ctx.JSON(http.StatusCreated, pkt)
}

func (api *packetApi) query(ctx echo.Context) error {
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	page, err := bindPage(ctx)
	if err != nil {
		return err
	}
	var ord Ordering
	ord.Bind(ctx)

	pkts, err := api.svc.QueryPackets(ctx.Request().Context(), filter, page, ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying packets")
	}
	return ctx.JSON(http.StatusOK, pkts)
}

func (api *packetApi) retrieve(ctx echo.Context) error {
	pkt, err := api.svc.GetPacket(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting packet")
	}
	return ctx.JSON(http.StatusOK, pkt)
}

func (api *packetApi) retrieveByBarcode(ctx echo.Context) error {
	pkt, err := api.svc.GetPacketByBarcode(ctx.Request().Context(), ctx.Param("barcode"))
	if err != nil {
		return errors.Wrap(err, "getting packet by barcode")
	}
	return ctx.JSON(http.StatusOK, pkt)
}

func (api *packetApi) detail(ctx echo.Context) error {
	detail, err := api.svc.PacketDetail(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting packet detail")
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *packetApi) queryHandovers(ctx echo.Context) error {
	hlogs, err := api.svc.ListHandovers(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing handovers")
	}
	return ctx.JSON(http.StatusOK, hlogs)
}

func (api *packetApi) recordHandover(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data packet.NewHandover
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHandover")
	}
	data.RecordedBy = claims.StaffID()

	hlog, err := api.svc.RecordHandover(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "recording handover")
	}
	return ctx.JSON(http.StatusCreated, hlog)
}

func (api *packetApi) overrideStatus(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data packet.OverrideStatus
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to OverrideStatus")
	}

	hlog, err := api.svc.OverrideStatus(ctx.Request().Context(), ctx.Param("id"), claims.StaffID(), data)
	if err != nil {
		return errors.Wrap(err, "overriding packet status")
	}
	return ctx.JSON(http.StatusOK, hlog)
}
