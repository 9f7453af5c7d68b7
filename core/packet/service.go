package packet

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	texttmpl "text/template"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/reference"
)

var nowFunc = time.Now // mockable

var (
	orderingFields = map[string]struct{}{
		"created_at": {}, "updated_at": {}, "last_handover_at": {},
		"barcode": {}, "status": {}, "grade": {}, "exam_year_id": {}, "subject_id": {}, "paper_count": {},
	}
	defaultOrdering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
)

// handover outcomes, as reported to the Observer
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultConflict = "conflict"
	ResultError    = "error"
)

type (
	// TransitionFunc computes the transition to persist given the packet as currently stored.
	TransitionFunc func(current ExamPacket) (Transition, error)

	Repository interface {
		// CreatePacket stores a new packet. It fails with ErrBarcodeExists on a barcode collision.
		CreatePacket(ctx context.Context, pkt ExamPacket) (ExamPacket, error)
		GetPacket(ctx context.Context, filter GetFilter) (ExamPacket, error)
		QueryPackets(ctx context.Context, filter *QueryFilter, page core.Page, ordering []core.DBOrdering) ([]ExamPacket, error)
		CountPacketsByStatus(ctx context.Context, filter *QueryFilter) (map[Status]int, error)
		// QueryHandovers returns the handovers of a packet by ascending handover time.
		QueryHandovers(ctx context.Context, packetID string) ([]HandoverLog, error)
		// AppendHandover reads the packet, builds a transition from it and persists the handover and the
		// updated packet atomically. It fails with ErrConflict if the packet changed in between.
		AppendHandover(ctx context.Context, packetID string, build TransitionFunc) (HandoverLog, error)
	}

	// Observer gets notified of ledger activity.
	Observer interface {
		PacketCreated()
		HandoverRecorded(status Status, result string, elapsed time.Duration)
	}

	Service interface {
		CreatePacket(ctx context.Context, np NewPacket) (ExamPacket, error)
		GetPacket(ctx context.Context, id string) (ExamPacket, error)
		GetPacketByBarcode(ctx context.Context, barcode string) (ExamPacket, error)
		QueryPackets(ctx context.Context, filter *QueryFilter, page core.Page, ordering []core.DBOrdering) ([]ExamPacket, error)
		RecordHandover(ctx context.Context, packetID string, nh NewHandover) (HandoverLog, error)
		OverrideStatus(ctx context.Context, packetID string, recordedBy *int64, os OverrideStatus) (HandoverLog, error)
		ListHandovers(ctx context.Context, packetID string) ([]HandoverLog, error)
		PacketDetail(ctx context.Context, packetID string) (Detail, error)
		DashboardStats(ctx context.Context, filter *QueryFilter) (Stats, error)
	}

	Deps struct {
		Repo       Repository
		Directory  reference.Directory
		Validate   *validator.Validate
		Translator ut.Translator
		Logger     core.Logger
		MailSvc    core.EmailService // optional, for incident alerts
		Observer   Observer          // optional
		Conf       *core.Config
	}

	service struct {
		repo       Repository
		dir        reference.Directory
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
		mailSvc    core.EmailService
		observer   Observer
		conf       *core.Config
		stats      *cache.Cache
	}
)

func NewService(deps Deps) Service {
	svc := &service{
		repo:       deps.Repo,
		dir:        deps.Directory,
		validate:   deps.Validate,
		translator: deps.Translator,
		logger:     deps.Logger,
		mailSvc:    deps.MailSvc,
		observer:   deps.Observer,
		conf:       deps.Conf,
	}
	if svc.observer == nil {
		svc.observer = nopObserver{}
	}
	if deps.Conf.StatsCacheTTL > 0 {
		svc.stats = cache.New(deps.Conf.StatsCacheTTL, 0)
	}
	return svc
}

func (svc *service) CreatePacket(ctx context.Context, np NewPacket) (ExamPacket, error) {
	if err := np.Validate(ctx, svc.validate, svc.dir); err != nil {
		return ExamPacket{}, svc.validationError(err)
	}

	now := utcNow()
	pkt := ExamPacket{
		ExamYearID:           np.ExamYearID,
		SubjectID:            np.SubjectID,
		Grade:                np.Grade,
		DestinationCenterID:  np.DestinationCenterID,
		DestinationRegionID:  copyID(np.DestinationRegionID),
		DestinationClusterID: copyID(np.DestinationClusterID),
		PaperCount:           np.PaperCount,
		SecuritySealNumber:   stringPtr(np.SecuritySealNumber),
		Notes:                stringPtr(np.Notes),
		Status:               StatusCreated,
		CurrentLocationType:  LocationHQ,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	for attempt := 1; attempt <= maxBarcodeAttempts; attempt++ {
		pkt.ID = uuid.New().String()
		pkt.Barcode = newBarcode(np.ExamYearID)

		created, err := svc.repo.CreatePacket(ctx, pkt)
		if errors.Cause(err) == ErrBarcodeExists {
			svc.logger.Warn("barcode collision", "barcode", pkt.Barcode, "attempt", attempt)
			continue
		}
		if err != nil {
			return ExamPacket{}, errors.Wrap(err, "creating packet")
		}

		svc.flushStats()
		svc.observer.PacketCreated()
		svc.logger.Info("packet created", "id", created.ID, "barcode", created.Barcode)
		return created, nil
	}
	return ExamPacket{}, errBarcodeExhausted
}

func (svc *service) GetPacket(ctx context.Context, id string) (ExamPacket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return ExamPacket{}, ErrNotFound
	}
	return svc.repo.GetPacket(ctx, GetFilter{ID: id})
}

func (svc *service) GetPacketByBarcode(ctx context.Context, barcode string) (ExamPacket, error) {
	barcode = core.CleanString(barcode)
	if barcode == "" {
		return ExamPacket{}, ErrNotFound
	}
	return svc.repo.GetPacket(ctx, GetFilter{Barcode: barcode})
}

func (svc *service) QueryPackets(
	ctx context.Context,
	filter *QueryFilter,
	page core.Page,
	ordering []core.DBOrdering,
) ([]ExamPacket, error) {
	filter = cleanFilter(filter)
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if page.Limit < 0 || page.Offset < 0 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "limit", Error: "limit and offset must be positive"})
	}
	if len(ordering) == 0 {
		ordering = defaultOrdering
	}
	for _, ord := range ordering {
		if _, ok := orderingFields[ord.Field]; !ok {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: fmt.Sprintf("cannot order by %q", ord.Field)})
		}
	}

	pkts, err := svc.repo.QueryPackets(ctx, filter, page, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying packets")
	}
	return pkts, nil
}

// RecordHandover validates nh against the packet's current state and appends it to the ledger.
// A concurrent modification is retried once before ErrConflict is returned.
func (svc *service) RecordHandover(ctx context.Context, packetID string, nh NewHandover) (HandoverLog, error) {
	start := nowFunc()

	hlog, err := svc.recordHandover(ctx, packetID, nh)
	if errors.Cause(err) == ErrConflict {
		svc.logger.Warn("handover conflict, retrying", "packet_id", packetID)
		hlog, err = svc.recordHandover(ctx, packetID, nh)
	}
	svc.observer.HandoverRecorded(nh.StatusAtHandover, handoverResult(err), nowFunc().Sub(start))
	if err != nil {
		return HandoverLog{}, err
	}

	svc.flushStats()
	svc.logger.Info(
		"handover recorded",
		"packet_id", packetID, "status", hlog.StatusAtHandover, "location_type", hlog.ToLocationType)
	if hlog.StatusAtHandover.IsIncident() {
		svc.reportIncident(ctx, hlog)
	}
	return hlog, nil
}

func (svc *service) recordHandover(ctx context.Context, packetID string, nh NewHandover) (HandoverLog, error) {
	if _, err := uuid.Parse(packetID); err != nil {
		return HandoverLog{}, ErrNotFound
	}
	if err := nh.Validate(ctx, svc.validate, svc.dir); err != nil {
		return HandoverLog{}, svc.validationError(err)
	}

	hlog, err := svc.repo.AppendHandover(ctx, packetID, func(current ExamPacket) (Transition, error) {
		return buildTransition(current, nh, utcNow())
	})
	if err != nil {
		return HandoverLog{}, errors.Wrap(err, "recording handover")
	}
	return hlog, nil
}

// buildTransition checks nh against the current packet state and returns the resulting transition.
func buildTransition(current ExamPacket, nh NewHandover, now time.Time) (Transition, error) {
	if err := CheckTransition(
		current.Status, current.CurrentLocationType,
		nh.Direction,
		nh.StatusAtHandover, nh.ToLocationType,
	); err != nil {
		return Transition{}, err
	}

	from := nh.FromLocationType
	if from == "" {
		from = current.CurrentLocationType
	}
	if from != current.CurrentLocationType {
		return Transition{}, core.NewValidationError(nil, core.FieldError{
			Field: "from_location_type",
			Error: fmt.Sprintf("packet is currently at %s", current.CurrentLocationType),
		})
	}

	// handover times are strictly increasing per packet
	ht := now.UTC().Truncate(time.Microsecond)
	if current.LastHandoverAt != nil && !ht.After(*current.LastHandoverAt) {
		ht = current.LastHandoverAt.Add(time.Microsecond)
	}

	return newTransition(current, HandoverLog{
		ID:               uuid.New().String(),
		PacketID:         current.ID,
		Direction:        nh.Direction,
		FromLocationType: from,
		ToLocationType:   nh.ToLocationType,
		FromRegionID:     copyID(nh.FromRegionID),
		FromClusterID:    copyID(nh.FromClusterID),
		FromCenterID:     copyID(nh.FromCenterID),
		ToRegionID:       copyID(nh.ToRegionID),
		ToClusterID:      copyID(nh.ToClusterID),
		ToCenterID:       copyID(nh.ToCenterID),
		SenderStaffID:    copyID(nh.SenderStaffID),
		ReceiverStaffID:  copyID(nh.ReceiverStaffID),
		RecordedBy:       copyID(nh.RecordedBy),
		StatusAtHandover: nh.StatusAtHandover,
		GPSLatitude:      nh.GPSLatitude,
		GPSLongitude:     nh.GPSLongitude,
		Notes:            stringPtr(nh.Notes),
		HandoverTime:     ht,
	})
}

func (svc *service) OverrideStatus(ctx context.Context, packetID string, recordedBy *int64, os OverrideStatus) (HandoverLog, error) {
	if err := svc.validate.Struct(os); err != nil {
		return HandoverLog{}, svc.validationError(err)
	}
	svc.logger.Warn("status override", "packet_id", packetID, "status", os.Status, "recorded_by", FormatID(recordedBy))
	return svc.RecordHandover(ctx, packetID, os.toHandover(recordedBy))
}

func (svc *service) ListHandovers(ctx context.Context, packetID string) ([]HandoverLog, error) {
	if _, err := svc.GetPacket(ctx, packetID); err != nil {
		return nil, err
	}
	hlogs, err := svc.repo.QueryHandovers(ctx, packetID)
	if err != nil {
		return nil, errors.Wrap(err, "querying handovers")
	}
	return hlogs, nil
}

func (svc *service) PacketDetail(ctx context.Context, packetID string) (Detail, error) {
	pkt, err := svc.GetPacket(ctx, packetID)
	if err != nil {
		return Detail{}, err
	}
	hlogs, err := svc.repo.QueryHandovers(ctx, packetID)
	if err != nil {
		return Detail{}, errors.Wrap(err, "querying handovers")
	}

	resolve := func(kind reference.Kind, id *int64) string { return reference.Resolve(ctx, svc.dir, kind, id) }
	grade := int64(pkt.Grade)
	detail := Detail{
		Packet: pkt,
		Names: PacketNames{
			ExamYear:           resolve(reference.KindExamYear, &pkt.ExamYearID),
			Subject:            resolve(reference.KindSubject, &pkt.SubjectID),
			Grade:              resolve(reference.KindGrade, &grade),
			DestinationCenter:  resolve(reference.KindCenter, &pkt.DestinationCenterID),
			DestinationRegion:  resolve(reference.KindRegion, pkt.DestinationRegionID),
			DestinationCluster: resolve(reference.KindCluster, pkt.DestinationClusterID),
			CurrentLocation:    svc.locationName(ctx, pkt.CurrentLocationType, pkt.CurrentRegionID, pkt.CurrentClusterID, pkt.CurrentCenterID),
		},
		Handovers: make([]HandoverDetail, 0, len(hlogs)),
	}
	for _, h := range hlogs {
		detail.Handovers = append(detail.Handovers, HandoverDetail{
			HandoverLog:      h,
			FromLocationName: svc.locationName(ctx, h.FromLocationType, h.FromRegionID, h.FromClusterID, h.FromCenterID),
			ToLocationName:   svc.locationName(ctx, h.ToLocationType, h.ToRegionID, h.ToClusterID, h.ToCenterID),
			SenderName:       resolve(reference.KindStaff, h.SenderStaffID),
			ReceiverName:     resolve(reference.KindStaff, h.ReceiverStaffID),
			RecordedByName:   resolve(reference.KindStaff, h.RecordedBy),
		})
	}
	return detail, nil
}

func (svc *service) locationName(ctx context.Context, tier LocationType, regionID, clusterID, centerID *int64) string {
	switch tier {
	case LocationRegion:
		return reference.Resolve(ctx, svc.dir, reference.KindRegion, regionID)
	case LocationCluster:
		return reference.Resolve(ctx, svc.dir, reference.KindCluster, clusterID)
	case LocationCenter:
		return reference.Resolve(ctx, svc.dir, reference.KindCenter, centerID)
	case LocationHQ:
		return "HQ"
	}
	return ""
}

// DashboardStats counts packets per status. Results are cached for conf.StatsCacheTTL, and flushed on every write.
func (svc *service) DashboardStats(ctx context.Context, filter *QueryFilter) (Stats, error) {
	filter = cleanFilter(filter)
	if err := filter.Validate(); err != nil {
		return Stats{}, err
	}

	key := filter.cacheKey()
	if svc.stats != nil {
		if stats, found := svc.stats.Get(key); found {
			return copyStats(stats.(Stats)), nil
		}
	}

	counts, err := svc.repo.CountPacketsByStatus(ctx, filter)
	if err != nil {
		return Stats{}, errors.Wrap(err, "counting packets")
	}
	stats := Stats{StatusCounts: make(map[Status]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		stats.StatusCounts[status] = counts[status]
		stats.Total += counts[status]
	}

	if svc.stats != nil {
		svc.stats.SetDefault(key, copyStats(stats))
	}
	return stats, nil
}

func (svc *service) flushStats() {
	if svc.stats != nil {
		svc.stats.Flush()
	}
}

var incidentTmpl = texttmpl.Must(texttmpl.New("incident").Parse(`Packet {{.Packet.Barcode}} was reported {{.Handover.StatusAtHandover}}.

Location: {{.Handover.ToLocationType}} {{.Location}}
Handover time: {{.Handover.HandoverTime.Format "2006-01-02 15:04:05 MST"}}
{{with .Notes}}Notes: {{.}}
{{end}}`))

// reportIncident emails conf.IncidentEmail about a packet reported missing or damaged.
func (svc *service) reportIncident(ctx context.Context, h HandoverLog) {
	svc.logger.Error(
		"packet incident",
		"packet_id", h.PacketID, "status", h.StatusAtHandover, "location_type", h.ToLocationType)
	if svc.mailSvc == nil || svc.conf.IncidentEmail == "" {
		return
	}

	pkt, err := svc.repo.GetPacket(ctx, GetFilter{ID: h.PacketID})
	if err != nil {
		svc.logger.Error("loading incident packet", "packet_id", h.PacketID, "error", err)
		return
	}
	var notes string
	if h.Notes != nil {
		notes = *h.Notes
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:       []mail.Address{{Address: svc.conf.IncidentEmail}},
		Subject:  fmt.Sprintf("[%s] Packet %s %s", svc.conf.AppName, pkt.Barcode, h.StatusAtHandover),
		Template: incidentTmpl,
		TemplateData: map[string]interface{}{
			"Packet":   pkt,
			"Handover": h,
			"Location": svc.locationName(ctx, h.ToLocationType, h.ToRegionID, h.ToClusterID, h.ToCenterID),
			"Notes":    notes,
		},
	})
}

func (svc *service) validationError(err error) error {
	return core.TranslateValidationErrors(err, svc.translator)
}

func handoverResult(err error) string {
	switch cause := errors.Cause(err); {
	case err == nil:
		return ResultAccepted
	case cause == ErrConflict:
		return ResultConflict
	case IsInvalidTransition(cause):
		return ResultRejected
	case core.IsValidationError(cause), cause == ErrNotFound:
		return ResultInvalid
	}
	return ResultError
}

func cleanFilter(filter *QueryFilter) *QueryFilter {
	if filter == nil {
		return &QueryFilter{}
	}
	qf := *filter
	qf.Clean()
	return &qf
}

func copyStats(s Stats) Stats {
	counts := make(map[Status]int, len(s.StatusCounts))
	for k, v := range s.StatusCounts {
		counts[k] = v
	}
	return Stats{Total: s.Total, StatusCounts: counts}
}

func utcNow() time.Time {
	return nowFunc().UTC().Truncate(time.Microsecond)
}

// FormatID renders an optional id for display.
func FormatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

type nopObserver struct{}

func (nopObserver) PacketCreated()                                {}
func (nopObserver) HandoverRecorded(Status, string, time.Duration) {}
