package packet

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mitihani/core"
)

var (
	packetStatusTag  = "packetstatus"
	packetStatusText = "unknown packet status"

	locationTypeTag  = "locationtype"
	locationTypeText = "location type must be one of hq, region, cluster, center"

	directionTag  = "direction"
	directionText = "direction must be forward or return"

	locRequiredTag   = "locrequired"
	locRequiredText  = "this field is required for the location type"
	locForbiddenTag  = "locforbidden"
	locForbiddenText = "this field must be empty for the location type"
)

// InitValidators registers the packet validation tags on validate. core.InitValidators must be called first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(packetStatusTag, func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).IsValid()
	})
	core.RegisterCustomTranslation(validate, translator, packetStatusTag, packetStatusText)

	_ = validate.RegisterValidation(locationTypeTag, func(fl validator.FieldLevel) bool {
		return LocationType(fl.Field().String()).IsValid()
	})
	core.RegisterCustomTranslation(validate, translator, locationTypeTag, locationTypeText)

	_ = validate.RegisterValidation(directionTag, func(fl validator.FieldLevel) bool {
		return Direction(fl.Field().String()).IsValid()
	})
	core.RegisterCustomTranslation(validate, translator, directionTag, directionText)

	core.RegisterCustomTranslation(validate, translator, locRequiredTag, locRequiredText)
	core.RegisterCustomTranslation(validate, translator, locForbiddenTag, locForbiddenText)

	validate.RegisterStructValidation(newHandoverStructLevelValidation, NewHandover{})
	validate.RegisterStructValidation(overrideStatusStructLevelValidation, OverrideStatus{})
}

func newHandoverStructLevelValidation(sl validator.StructLevel) {
	nh := sl.Current().Interface().(NewHandover)
	reportLocation(sl, "to_", nh.ToLocationType, nh.ToRegionID, nh.ToClusterID, nh.ToCenterID)
}

func overrideStatusStructLevelValidation(sl validator.StructLevel) {
	os := sl.Current().Interface().(OverrideStatus)
	reportLocation(sl, "", os.LocationType, os.RegionID, os.ClusterID, os.CenterID)
}

// reportLocation reports the location ids inconsistent with tier. An invalid tier is reported by its own tag.
func reportLocation(sl validator.StructLevel, prefix string, tier LocationType, regionID, clusterID, centerID *int64) {
	if !tier.IsValid() {
		return
	}
	for _, loc := range locationIDs(regionID, clusterID, centerID) {
		switch {
		case loc.tier == tier && loc.id == nil:
			sl.ReportError(loc.id, prefix+loc.field, prefix+loc.field, locRequiredTag, "")
		case loc.tier != tier && loc.id != nil:
			sl.ReportError(loc.id, prefix+loc.field, prefix+loc.field, locForbiddenTag, "")
		}
	}
}
