package packet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/reference"
)

// ExamPacket is a sealed bundle of answer papers for one subject/grade/exam year, destined for one center.
// Status, CurrentLocationType, Current*ID and LastHandoverAt are a projection of the latest HandoverLog.
type ExamPacket struct {
	ID                   string       `json:"id"`
	Barcode              string       `json:"barcode"`
	ExamYearID           int64        `json:"exam_year_id"`
	SubjectID            int64        `json:"subject_id"`
	Grade                int          `json:"grade"`
	DestinationCenterID  int64        `json:"destination_center_id"`
	DestinationRegionID  *int64       `json:"destination_region_id"`
	DestinationClusterID *int64       `json:"destination_cluster_id"`
	PaperCount           int          `json:"paper_count"`
	SecuritySealNumber   *string      `json:"security_seal_number"`
	Status               Status       `json:"status"`
	CurrentLocationType  LocationType `json:"current_location_type"`
	CurrentRegionID      *int64       `json:"current_region_id"`
	CurrentClusterID     *int64       `json:"current_cluster_id"`
	CurrentCenterID      *int64       `json:"current_center_id"`
	LastHandoverAt       *time.Time   `json:"last_handover_at"` // UTC
	Notes                *string      `json:"notes"`
	Version              int          `json:"version"`
	CreatedAt            time.Time    `json:"created_at"` // UTC
	UpdatedAt            time.Time    `json:"updated_at"` // UTC
}

// applyTransition returns the packet as projected after the accepted handover h.
func (p ExamPacket) applyTransition(h HandoverLog) ExamPacket {
	p.Status = h.StatusAtHandover
	p.CurrentLocationType = h.ToLocationType
	p.CurrentRegionID, p.CurrentClusterID, p.CurrentCenterID = nil, nil, nil
	switch h.ToLocationType {
	case LocationRegion:
		p.CurrentRegionID = copyID(h.ToRegionID)
	case LocationCluster:
		p.CurrentClusterID = copyID(h.ToClusterID)
	case LocationCenter:
		p.CurrentCenterID = copyID(h.ToCenterID)
	}
	ht := h.HandoverTime
	p.LastHandoverAt = &ht
	p.UpdatedAt = ht
	p.Version++
	return p
}

// CurrentLocationID returns the id of the current location (nil at hq).
func (p ExamPacket) CurrentLocationID() *int64 {
	switch p.CurrentLocationType {
	case LocationRegion:
		return p.CurrentRegionID
	case LocationCluster:
		return p.CurrentClusterID
	case LocationCenter:
		return p.CurrentCenterID
	}
	return nil
}

// HandoverLog is an accepted, immutable custody transfer.
type HandoverLog struct {
	ID               string       `json:"id"`
	PacketID         string       `json:"packet_id"`
	Direction        Direction    `json:"direction"`
	FromLocationType LocationType `json:"from_location_type"`
	ToLocationType   LocationType `json:"to_location_type"`
	FromRegionID     *int64       `json:"from_region_id"`
	FromClusterID    *int64       `json:"from_cluster_id"`
	FromCenterID     *int64       `json:"from_center_id"`
	ToRegionID       *int64       `json:"to_region_id"`
	ToClusterID      *int64       `json:"to_cluster_id"`
	ToCenterID       *int64       `json:"to_center_id"`
	SenderStaffID    *int64       `json:"sender_staff_id"`
	ReceiverStaffID  *int64       `json:"receiver_staff_id"`
	RecordedBy       *int64       `json:"recorded_by"`
	StatusAtHandover Status       `json:"status_at_handover"`
	GPSLatitude      *float64     `json:"gps_latitude"`
	GPSLongitude     *float64     `json:"gps_longitude"`
	Notes            *string      `json:"notes"`
	HandoverTime     time.Time    `json:"handover_time"` // UTC
}

// Transition is an accepted handover along with the packet projected from it.
// It only gets built by the ledger, and persisted as a whole by a Repository.
type Transition struct {
	Handover HandoverLog
	Packet   ExamPacket
}

// PrevVersion is the packet version the transition was computed against.
func (t Transition) PrevVersion() int { return t.Packet.Version - 1 }

func newTransition(current ExamPacket, h HandoverLog) (Transition, error) {
	pkt := current.applyTransition(h)
	if err := ValidateLocation(pkt.CurrentLocationType, pkt.CurrentRegionID, pkt.CurrentClusterID, pkt.CurrentCenterID); err != nil {
		return Transition{}, err
	}
	return Transition{Handover: h, Packet: pkt}, nil
}

// NewPacket contains information needed to create a new ExamPacket.
type NewPacket struct {
	ExamYearID           int64  `json:"exam_year_id" validate:"required"`
	SubjectID            int64  `json:"subject_id" validate:"required"`
	Grade                int    `json:"grade" validate:"required,min=1"`
	DestinationCenterID  int64  `json:"destination_center_id" validate:"required"`
	DestinationRegionID  *int64 `json:"destination_region_id"`
	DestinationClusterID *int64 `json:"destination_cluster_id"`
	PaperCount           int    `json:"paper_count" validate:"min=0"`
	SecuritySealNumber   string `json:"security_seal_number" validate:"omitempty,max=64,alphanumdash"`
	Notes                string `json:"notes" validate:"omitempty,max=2000"`
}

// Validate cleans np, validates it and checks that its references resolve in dir.
func (np *NewPacket) Validate(ctx context.Context, validate *validator.Validate, dir reference.Directory) error {
	np.SecuritySealNumber = strings.ToUpper(core.CleanString(np.SecuritySealNumber))
	np.Notes = core.CleanString(np.Notes)

	if err := validate.Struct(np); err != nil {
		return err
	}

	refs := []referenceCheck{
		{field: "exam_year_id", kind: reference.KindExamYear, id: &np.ExamYearID},
		{field: "subject_id", kind: reference.KindSubject, id: &np.SubjectID},
		{field: "grade", kind: reference.KindGrade, id: int64Ptr(int64(np.Grade))},
		{field: "destination_center_id", kind: reference.KindCenter, id: &np.DestinationCenterID},
		{field: "destination_region_id", kind: reference.KindRegion, id: np.DestinationRegionID},
		{field: "destination_cluster_id", kind: reference.KindCluster, id: np.DestinationClusterID},
	}
	return checkReferences(ctx, dir, refs)
}

// NewHandover contains information needed to record a custody transfer.
// FromLocationType defaults to the packet's current location type.
type NewHandover struct {
	Direction        Direction    `json:"direction" validate:"required,direction"`
	FromLocationType LocationType `json:"from_location_type" validate:"omitempty,locationtype"`
	ToLocationType   LocationType `json:"to_location_type" validate:"required,locationtype"`
	StatusAtHandover Status       `json:"status_at_handover" validate:"required,packetstatus"`
	FromRegionID     *int64       `json:"from_region_id"`
	FromClusterID    *int64       `json:"from_cluster_id"`
	FromCenterID     *int64       `json:"from_center_id"`
	ToRegionID       *int64       `json:"to_region_id"`
	ToClusterID      *int64       `json:"to_cluster_id"`
	ToCenterID       *int64       `json:"to_center_id"`
	SenderStaffID    *int64       `json:"sender_staff_id"`
	ReceiverStaffID  *int64       `json:"receiver_staff_id"`
	GPSLatitude      *float64     `json:"gps_latitude" validate:"omitempty,min=-90,max=90"`
	GPSLongitude     *float64     `json:"gps_longitude" validate:"omitempty,min=-180,max=180"`
	Notes            string       `json:"notes" validate:"omitempty,max=2000"`

	// RecordedBy is the authenticated operator; never bound from request bodies.
	RecordedBy *int64 `json:"-"`
}

func (nh *NewHandover) Validate(ctx context.Context, validate *validator.Validate, dir reference.Directory) error {
	nh.Notes = core.CleanString(nh.Notes)

	if err := validate.Struct(nh); err != nil {
		return err
	}

	refs := []referenceCheck{
		{field: "sender_staff_id", kind: reference.KindStaff, id: nh.SenderStaffID},
		{field: "receiver_staff_id", kind: reference.KindStaff, id: nh.ReceiverStaffID},
		{field: "recorded_by", kind: reference.KindStaff, id: nh.RecordedBy},
	}
	return checkReferences(ctx, dir, refs)
}

// OverrideStatus is an administrative status change. It is still recorded as a handover,
// its direction being inferred from the target status.
type OverrideStatus struct {
	Status       Status       `json:"status" validate:"required,packetstatus"`
	LocationType LocationType `json:"location_type" validate:"required,locationtype"`
	RegionID     *int64       `json:"region_id"`
	ClusterID    *int64       `json:"cluster_id"`
	CenterID     *int64       `json:"center_id"`
	Notes        string       `json:"notes" validate:"required,notblank,max=2000"`
}

func (os OverrideStatus) toHandover(recordedBy *int64) NewHandover {
	dir := DirectionForward
	if os.Status.IsReturn() {
		dir = DirectionReturn
	}
	return NewHandover{
		Direction:        dir,
		ToLocationType:   os.LocationType,
		StatusAtHandover: os.Status,
		ToRegionID:       os.RegionID,
		ToClusterID:      os.ClusterID,
		ToCenterID:       os.CenterID,
		Notes:            "status override: " + core.CleanString(os.Notes),
		RecordedBy:       recordedBy,
	}
}

type GetFilter struct {
	ID      string
	Barcode string
}

// QueryFilter applies an AND operation on its set fields. Zero values are ignored.
type QueryFilter struct {
	Barcode             string       `query:"barcode"`
	BarcodeExact        bool         `query:"barcode_exact"`
	Status              Status       `query:"status"`
	ExamYearID          int64        `query:"exam_year_id"`
	Grade               int          `query:"grade"`
	SubjectID           int64        `query:"subject_id"`
	DestinationCenterID int64        `query:"destination_center_id"`
	LocationType        LocationType `query:"location_type"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf == nil || *qf == QueryFilter{} || (*qf == QueryFilter{BarcodeExact: true})
}

func (qf *QueryFilter) Clean() {
	qf.Barcode = strings.ToUpper(core.CleanString(qf.Barcode))
	qf.Status = Status(core.CleanString(string(qf.Status), true /* lower */))
	qf.LocationType = LocationType(core.CleanString(string(qf.LocationType), true /* lower */))
}

func (qf *QueryFilter) Validate() error {
	var flds []core.FieldError
	if qf.Status != "" && !qf.Status.IsValid() {
		flds = append(flds, core.FieldError{Field: "status", Error: packetStatusText})
	}
	if qf.LocationType != "" && !qf.LocationType.IsValid() {
		flds = append(flds, core.FieldError{Field: "location_type", Error: locationTypeText})
	}
	if qf.Grade < 0 {
		flds = append(flds, core.FieldError{Field: "grade", Error: "grade must be 1 or greater"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

func (qf *QueryFilter) cacheKey() string {
	if qf == nil {
		return "{}"
	}
	return fmt.Sprintf("%+v", *qf)
}

// Stats are the dashboard counters. StatusCounts holds every status, zero included.
type Stats struct {
	Total        int            `json:"total"`
	StatusCounts map[Status]int `json:"status_counts"`
}

// Detail is a packet with its full custody history and resolved display names.
type Detail struct {
	Packet    ExamPacket       `json:"packet"`
	Names     PacketNames      `json:"names"`
	Handovers []HandoverDetail `json:"handovers"`
}

type PacketNames struct {
	ExamYear           string `json:"exam_year"`
	Subject            string `json:"subject"`
	Grade              string `json:"grade"`
	DestinationCenter  string `json:"destination_center"`
	DestinationRegion  string `json:"destination_region"`
	DestinationCluster string `json:"destination_cluster"`
	CurrentLocation    string `json:"current_location"`
}

type HandoverDetail struct {
	HandoverLog
	FromLocationName string `json:"from_location_name"`
	ToLocationName   string `json:"to_location_name"`
	SenderName       string `json:"sender_name"`
	ReceiverName     string `json:"receiver_name"`
	RecordedByName   string `json:"recorded_by_name"`
}

type referenceCheck struct {
	field string
	kind  reference.Kind
	id    *int64
}

func checkReferences(ctx context.Context, dir reference.Directory, refs []referenceCheck) error {
	var flds []core.FieldError
	for _, ref := range refs {
		if ref.id == nil {
			continue
		}
		if _, err := dir.Lookup(ctx, ref.kind, *ref.id); err != nil {
			if errors.Cause(err) != reference.ErrNotFound {
				return errors.Wrapf(err, "looking up %s %d", ref.kind, *ref.id)
			}
			flds = append(flds, core.FieldError{Field: ref.field, Error: fmt.Sprintf("unknown %s", strings.ReplaceAll(string(ref.kind), "_", " "))})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

func int64Ptr(i int64) *int64 { return &i }

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	return int64Ptr(*id)
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
