package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
)

const (
	packetColumns = `id, barcode, exam_year_id, subject_id, grade, destination_center_id, destination_region_id,
destination_cluster_id, paper_count, security_seal_number, status, current_location_type, current_region_id,
current_cluster_id, current_center_id, last_handover_at, notes, version, created_at, updated_at`

	handoverColumns = `id, packet_id, direction, from_location_type, to_location_type, from_region_id, from_cluster_id,
from_center_id, to_region_id, to_cluster_id, to_center_id, sender_staff_id, receiver_staff_id, recorded_by,
status_at_handover, gps_latitude, gps_longitude, notes, handover_time`
)

type (
	packetRow struct {
		ID                   string      `db:"id"`
		Barcode              string      `db:"barcode"`
		ExamYearID           int64       `db:"exam_year_id"`
		SubjectID            int64       `db:"subject_id"`
		Grade                int         `db:"grade"`
		DestinationCenterID  int64       `db:"destination_center_id"`
		DestinationRegionID  null.Int64  `db:"destination_region_id"`
		DestinationClusterID null.Int64  `db:"destination_cluster_id"`
		PaperCount           int         `db:"paper_count"`
		SecuritySealNumber   null.String `db:"security_seal_number"`
		Status               string      `db:"status"`
		CurrentLocationType  string      `db:"current_location_type"`
		CurrentRegionID      null.Int64  `db:"current_region_id"`
		CurrentClusterID     null.Int64  `db:"current_cluster_id"`
		CurrentCenterID      null.Int64  `db:"current_center_id"`
		LastHandoverAt       null.Time   `db:"last_handover_at"`
		Notes                null.String `db:"notes"`
		Version              int         `db:"version"`
		CreatedAt            null.Time   `db:"created_at"`
		UpdatedAt            null.Time   `db:"updated_at"`
	}

	handoverRow struct {
		ID               string       `db:"id"`
		PacketID         string       `db:"packet_id"`
		Direction        string       `db:"direction"`
		FromLocationType string       `db:"from_location_type"`
		ToLocationType   string       `db:"to_location_type"`
		FromRegionID     null.Int64   `db:"from_region_id"`
		FromClusterID    null.Int64   `db:"from_cluster_id"`
		FromCenterID     null.Int64   `db:"from_center_id"`
		ToRegionID       null.Int64   `db:"to_region_id"`
		ToClusterID      null.Int64   `db:"to_cluster_id"`
		ToCenterID       null.Int64   `db:"to_center_id"`
		SenderStaffID    null.Int64   `db:"sender_staff_id"`
		ReceiverStaffID  null.Int64   `db:"receiver_staff_id"`
		RecordedBy       null.Int64   `db:"recorded_by"`
		StatusAtHandover string       `db:"status_at_handover"`
		GPSLatitude      null.Float64 `db:"gps_latitude"`
		GPSLongitude     null.Float64 `db:"gps_longitude"`
		Notes            null.String  `db:"notes"`
		HandoverTime     null.Time    `db:"handover_time"`
	}

	statusCount struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
)

func toPacketRow(pkt packet.ExamPacket) packetRow {
	return packetRow{
		ID:                   pkt.ID,
		Barcode:              pkt.Barcode,
		ExamYearID:           pkt.ExamYearID,
		SubjectID:            pkt.SubjectID,
		Grade:                pkt.Grade,
		DestinationCenterID:  pkt.DestinationCenterID,
		DestinationRegionID:  null.Int64FromPtr(pkt.DestinationRegionID),
		DestinationClusterID: null.Int64FromPtr(pkt.DestinationClusterID),
		PaperCount:           pkt.PaperCount,
		SecuritySealNumber:   null.StringFromPtr(pkt.SecuritySealNumber),
		Status:               string(pkt.Status),
		CurrentLocationType:  string(pkt.CurrentLocationType),
		CurrentRegionID:      null.Int64FromPtr(pkt.CurrentRegionID),
		CurrentClusterID:     null.Int64FromPtr(pkt.CurrentClusterID),
		CurrentCenterID:      null.Int64FromPtr(pkt.CurrentCenterID),
		LastHandoverAt:       null.TimeFromPtr(pkt.LastHandoverAt),
		Notes:                null.StringFromPtr(pkt.Notes),
		Version:              pkt.Version,
		CreatedAt:            null.NewTime(pkt.CreatedAt.UTC(), !pkt.CreatedAt.IsZero()),
		UpdatedAt:            null.NewTime(pkt.UpdatedAt.UTC(), !pkt.UpdatedAt.IsZero()),
	}
}

func (row packetRow) toPacket() packet.ExamPacket {
	pkt := packet.ExamPacket{
		ID:                   row.ID,
		Barcode:              row.Barcode,
		ExamYearID:           row.ExamYearID,
		SubjectID:            row.SubjectID,
		Grade:                row.Grade,
		DestinationCenterID:  row.DestinationCenterID,
		DestinationRegionID:  row.DestinationRegionID.Ptr(),
		DestinationClusterID: row.DestinationClusterID.Ptr(),
		PaperCount:           row.PaperCount,
		SecuritySealNumber:   row.SecuritySealNumber.Ptr(),
		Status:               packet.Status(row.Status),
		CurrentLocationType:  packet.LocationType(row.CurrentLocationType),
		CurrentRegionID:      row.CurrentRegionID.Ptr(),
		CurrentClusterID:     row.CurrentClusterID.Ptr(),
		CurrentCenterID:      row.CurrentCenterID.Ptr(),
		Notes:                row.Notes.Ptr(),
		Version:              row.Version,
		CreatedAt:            row.CreatedAt.Time.UTC(),
		UpdatedAt:            row.UpdatedAt.Time.UTC(),
	}
	if row.LastHandoverAt.Valid {
		t := row.LastHandoverAt.Time.UTC()
		pkt.LastHandoverAt = &t
	}
	return pkt
}

func toHandoverRow(h packet.HandoverLog) handoverRow {
	return handoverRow{
		ID:               h.ID,
		PacketID:         h.PacketID,
		Direction:        string(h.Direction),
		FromLocationType: string(h.FromLocationType),
		ToLocationType:   string(h.ToLocationType),
		FromRegionID:     null.Int64FromPtr(h.FromRegionID),
		FromClusterID:    null.Int64FromPtr(h.FromClusterID),
		FromCenterID:     null.Int64FromPtr(h.FromCenterID),
		ToRegionID:       null.Int64FromPtr(h.ToRegionID),
		ToClusterID:      null.Int64FromPtr(h.ToClusterID),
		ToCenterID:       null.Int64FromPtr(h.ToCenterID),
		SenderStaffID:    null.Int64FromPtr(h.SenderStaffID),
		ReceiverStaffID:  null.Int64FromPtr(h.ReceiverStaffID),
		RecordedBy:       null.Int64FromPtr(h.RecordedBy),
		StatusAtHandover: string(h.StatusAtHandover),
		GPSLatitude:      null.Float64FromPtr(h.GPSLatitude),
		GPSLongitude:     null.Float64FromPtr(h.GPSLongitude),
		Notes:            null.StringFromPtr(h.Notes),
		HandoverTime:     null.TimeFrom(h.HandoverTime.UTC()),
	}
}

func (row handoverRow) toHandover() packet.HandoverLog {
	return packet.HandoverLog{
		ID:               row.ID,
		PacketID:         row.PacketID,
		Direction:        packet.Direction(row.Direction),
		FromLocationType: packet.LocationType(row.FromLocationType),
		ToLocationType:   packet.LocationType(row.ToLocationType),
		FromRegionID:     row.FromRegionID.Ptr(),
		FromClusterID:    row.FromClusterID.Ptr(),
		FromCenterID:     row.FromCenterID.Ptr(),
		ToRegionID:       row.ToRegionID.Ptr(),
		ToClusterID:      row.ToClusterID.Ptr(),
		ToCenterID:       row.ToCenterID.Ptr(),
		SenderStaffID:    row.SenderStaffID.Ptr(),
		ReceiverStaffID:  row.ReceiverStaffID.Ptr(),
		RecordedBy:       row.RecordedBy.Ptr(),
		StatusAtHandover: packet.Status(row.StatusAtHandover),
		GPSLatitude:      row.GPSLatitude.Ptr(),
		GPSLongitude:     row.GPSLongitude.Ptr(),
		Notes:            row.Notes.Ptr(),
		HandoverTime:     row.HandoverTime.Time.UTC(),
	}
}

type packetRepository struct {
	db *sqlx.DB
}

var _ packet.Repository = (*packetRepository)(nil) // interface compliance check

func NewPacketRepository(db *sqlx.DB) packet.Repository {
	return &packetRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to packet.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return packet.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}

func (repo *packetRepository) CreatePacket(ctx context.Context, pkt packet.ExamPacket) (packet.ExamPacket, error) {
	pkt.Version = 1
	q := `INSERT INTO exam_packets (` + packetColumns + `) VALUES (
:id, :barcode, :exam_year_id, :subject_id, :grade, :destination_center_id, :destination_region_id,
:destination_cluster_id, :paper_count, :security_seal_number, :status, :current_location_type, :current_region_id,
:current_cluster_id, :current_center_id, :last_handover_at, :notes, :version, :created_at, :updated_at)`

	if _, err := repo.db.NamedExecContext(ctx, q, toPacketRow(pkt)); err != nil {
		if isUniqueViolation(err) {
			return packet.ExamPacket{}, packet.ErrBarcodeExists
		}
		return packet.ExamPacket{}, errors.Wrap(err, "inserting packet")
	}
	return pkt, nil
}

func (repo *packetRepository) GetPacket(ctx context.Context, filter packet.GetFilter) (packet.ExamPacket, error) {
	var row packetRow
	var err error

	switch {
	case filter.ID != "":
		err = repo.db.GetContext(ctx, &row, `SELECT `+packetColumns+` FROM exam_packets WHERE id = $1`, filter.ID)
	case filter.Barcode != "":
		err = repo.db.GetContext(ctx, &row, `SELECT `+packetColumns+` FROM exam_packets WHERE UPPER(barcode) = UPPER($1)`, filter.Barcode)
	default:
		return packet.ExamPacket{}, packet.ErrNotFound
	}
	if err != nil {
		return packet.ExamPacket{}, trapNoRowsErr(err, "getting packet")
	}
	return row.toPacket(), nil
}

// where builds the WHERE clause (with "?" bindvars) matching filter.
func where(filter *packet.QueryFilter) (string, []interface{}) {
	if filter.IsEmpty() {
		return "", nil
	}

	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if filter.Barcode != "" {
		if filter.BarcodeExact {
			add("UPPER(barcode) = UPPER(?)", filter.Barcode)
		} else {
			add(`barcode ILIKE ? ESCAPE '\'`, "%"+escapeLike(filter.Barcode)+"%")
		}
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.ExamYearID != 0 {
		add("exam_year_id = ?", filter.ExamYearID)
	}
	if filter.Grade != 0 {
		add("grade = ?", filter.Grade)
	}
	if filter.SubjectID != 0 {
		add("subject_id = ?", filter.SubjectID)
	}
	if filter.DestinationCenterID != 0 {
		add("destination_center_id = ?", filter.DestinationCenterID)
	}
	if filter.LocationType != "" {
		add("current_location_type = ?", string(filter.LocationType))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (repo *packetRepository) QueryPackets(
	ctx context.Context,
	filter *packet.QueryFilter,
	page core.Page,
	ordering []core.DBOrdering,
) ([]packet.ExamPacket, error) {
	cond, args := where(filter)
	q := `SELECT ` + packetColumns + ` FROM exam_packets` + cond

	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	orderList = append(orderList, "id ASC")
	q += " ORDER BY " + strings.Join(orderList, ", ")

	if page.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, page.Limit)
	}
	if page.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, page.Offset)
	}

	var rows []packetRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying packets")
	}
	pkts := make([]packet.ExamPacket, 0, len(rows))
	for _, row := range rows {
		pkts = append(pkts, row.toPacket())
	}
	return pkts, nil
}

func (repo *packetRepository) CountPacketsByStatus(ctx context.Context, filter *packet.QueryFilter) (map[packet.Status]int, error) {
	cond, args := where(filter)
	q := `SELECT status, COUNT(*) AS count FROM exam_packets` + cond + ` GROUP BY status`

	var rows []statusCount
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "counting packets")
	}
	counts := make(map[packet.Status]int, len(rows))
	for _, row := range rows {
		counts[packet.Status(row.Status)] = row.Count
	}
	return counts, nil
}

func (repo *packetRepository) QueryHandovers(ctx context.Context, packetID string) ([]packet.HandoverLog, error) {
	var rows []handoverRow
	q := `SELECT ` + handoverColumns + ` FROM packet_handover_logs WHERE packet_id = $1 ORDER BY handover_time ASC, id ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, packetID); err != nil {
		return nil, errors.Wrap(err, "querying handovers")
	}
	hlogs := make([]packet.HandoverLog, 0, len(rows))
	for _, row := range rows {
		hlogs = append(hlogs, row.toHandover())
	}
	return hlogs, nil
}

// AppendHandover locks the packet row for the duration of the transaction,
// so concurrent handovers on the same packet are serialised.
func (repo *packetRepository) AppendHandover(
	ctx context.Context,
	packetID string,
	build packet.TransitionFunc,
) (_ packet.HandoverLog, err error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return packet.HandoverLog{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row packetRow
	q := `SELECT ` + packetColumns + ` FROM exam_packets WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &row, q, packetID); err != nil {
		return packet.HandoverLog{}, trapNoRowsErr(err, "locking packet")
	}

	trans, err := build(row.toPacket())
	if err != nil {
		return packet.HandoverLog{}, err
	}

	q = `INSERT INTO packet_handover_logs (` + handoverColumns + `) VALUES (
:id, :packet_id, :direction, :from_location_type, :to_location_type, :from_region_id, :from_cluster_id,
:from_center_id, :to_region_id, :to_cluster_id, :to_center_id, :sender_staff_id, :receiver_staff_id, :recorded_by,
:status_at_handover, :gps_latitude, :gps_longitude, :notes, :handover_time)`
	if _, err = tx.NamedExecContext(ctx, q, toHandoverRow(trans.Handover)); err != nil {
		return packet.HandoverLog{}, errors.Wrap(err, "inserting handover")
	}

	pkt := toPacketRow(trans.Packet)
	res, err := tx.ExecContext(ctx, `UPDATE exam_packets SET
status = $1, current_location_type = $2, current_region_id = $3, current_cluster_id = $4, current_center_id = $5,
last_handover_at = $6, updated_at = $7, version = $8
WHERE id = $9 AND version = $10`,
		pkt.Status, pkt.CurrentLocationType, pkt.CurrentRegionID, pkt.CurrentClusterID, pkt.CurrentCenterID,
		pkt.LastHandoverAt, pkt.UpdatedAt, pkt.Version,
		pkt.ID, trans.PrevVersion())
	if err != nil {
		return packet.HandoverLog{}, errors.Wrap(err, "updating packet")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return packet.HandoverLog{}, errors.Wrap(err, "updating packet")
	}
	if affected == 0 {
		err = packet.ErrConflict
		return packet.HandoverLog{}, err
	}

	if err = tx.Commit(); err != nil {
		return packet.HandoverLog{}, errors.Wrap(err, "committing handover")
	}
	return trans.Handover, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes the LIKE wildcards in s so it matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
