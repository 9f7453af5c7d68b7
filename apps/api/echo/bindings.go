package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
)

var (
	orderingParam = "ordering"
	limitParam    = "limit"
	offsetParam   = "offset"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindPage reads the limit and offset query params.
func bindPage(ctx echo.Context) (core.Page, error) {
	var page core.Page
	var flds []core.FieldError
	for _, p := range []struct {
		name string
		dst  *int
	}{{limitParam, &page.Limit}, {offsetParam, &page.Offset}} {
		raw := ctx.QueryParam(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			flds = append(flds, core.FieldError{Field: p.name, Error: "must be a positive integer"})
			continue
		}
		*p.dst = n
	}
	if len(flds) > 0 {
		return core.Page{}, core.NewValidationError(nil, flds...)
	}
	return page, nil
}

// bindQueryFilter reads a packet.QueryFilter from the query params.
func bindQueryFilter(ctx echo.Context) (*packet.QueryFilter, error) {
	filter := &packet.QueryFilter{
		Barcode:      ctx.QueryParam("barcode"),
		Status:       packet.Status(ctx.QueryParam("status")),
		LocationType: packet.LocationType(ctx.QueryParam("location_type")),
	}

	var flds []core.FieldError
	if raw := ctx.QueryParam("barcode_exact"); raw != "" {
		exact, err := strconv.ParseBool(raw)
		if err != nil {
			flds = append(flds, core.FieldError{Field: "barcode_exact", Error: "must be a boolean"})
		}
		filter.BarcodeExact = exact
	}
	ids := []struct {
		name string
		dst  *int64
	}{
		{"exam_year_id", &filter.ExamYearID},
		{"subject_id", &filter.SubjectID},
		{"destination_center_id", &filter.DestinationCenterID},
	}
	for _, p := range ids {
		raw := ctx.QueryParam(p.name)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			flds = append(flds, core.FieldError{Field: p.name, Error: "must be an integer"})
			continue
		}
		*p.dst = id
	}
	if raw := ctx.QueryParam("grade"); raw != "" {
		grade, err := strconv.Atoi(raw)
		if err != nil {
			flds = append(flds, core.FieldError{Field: "grade", Error: "must be an integer"})
		}
		filter.Grade = grade
	}

	if len(flds) > 0 {
		return nil, core.NewValidationError(nil, flds...)
	}
	return filter, nil
}
