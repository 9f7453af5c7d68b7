package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
	"github.com/trezcool/mitihani/core/reference"
	"github.com/trezcool/mitihani/storage/database"
	"github.com/trezcool/mitihani/storage/database/dummy"
)

// Seeded reference ids
const (
	ExamYear2024 int64 = 1
	SubjectMaths int64 = 1
	SubjectPhys  int64 = 2
	Grade6       int   = 6
	Grade8       int   = 8
	Region1      int64 = 1
	Region2      int64 = 2
	Region3      int64 = 3
	Cluster1     int64 = 11
	Center10     int64 = 10
	Center1      int64 = 101
	Center2      int64 = 102
	StaffAlice   int64 = 1001
	StaffBob     int64 = 1002
)

var (
	conf     *core.Config
	confOnce sync.Once

	dbOnce sync.Once
	dbErr  error
)

func Config() *core.Config {
	confOnce.Do(func() {
		if os.Getenv("ENV") == "" {
			_ = os.Setenv("ENV", "TEST")
		}
		conf = core.NewConfig()
		conf.Debug = false
		conf.StatsCacheTTL = 0
	})
	return conf
}

// NewValidator returns a validator with the core and packet tags registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	packet.InitValidators(validate, translator)
	return validate, translator
}

// NewDirectory returns a StaticDirectory seeded with the test reference records.
func NewDirectory() *reference.StaticDirectory {
	return reference.NewStaticDirectory().
		Add(reference.KindExamYear, ExamYear2024, "2024").
		Add(reference.KindSubject, SubjectMaths, "Mathematics").
		Add(reference.KindSubject, SubjectPhys, "Physics").
		Add(reference.KindGrade, int64(Grade6), "Grade 6").
		Add(reference.KindGrade, int64(Grade8), "Grade 8").
		Add(reference.KindRegion, Region1, "Central").
		Add(reference.KindRegion, Region2, "Coast").
		Add(reference.KindRegion, Region3, "Rift Valley").
		Add(reference.KindCluster, Cluster1, "Central North").
		Add(reference.KindCenter, Center10, "Hillside Primary School").
		Add(reference.KindCenter, Center1, "Central High School").
		Add(reference.KindCenter, Center2, "Lakeside Academy").
		Add(reference.KindStaff, StaffAlice, "Alice Wanjiru").
		Add(reference.KindStaff, StaffBob, "Bob Otieno")
}

// NewDummyService returns a packet service over an in-memory repository.
func NewDummyService(t *testing.T, opts ...func(*packet.Deps)) (packet.Service, packet.Repository) {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open(): %v", err)
	}
	repo := dummydb.NewPacketRepository(db)
	validate, translator := NewValidator()

	deps := packet.Deps{
		Repo:       repo,
		Directory:  NewDirectory(),
		Validate:   validate,
		Translator: translator,
		Logger:     NopLogger{},
		Conf:       Config(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return packet.NewService(deps), repo
}

// Int64 returns a pointer to i.
func Int64(i int64) *int64 { return &i }

// NewPacket returns a valid NewPacket destined for Center1.
func NewPacket() packet.NewPacket {
	return packet.NewPacket{
		ExamYearID:           ExamYear2024,
		SubjectID:            SubjectMaths,
		Grade:                Grade8,
		DestinationCenterID:  Center1,
		DestinationRegionID:  Int64(Region1),
		DestinationClusterID: Int64(Cluster1),
		PaperCount:           40,
		SecuritySealNumber:   "SEAL-0001",
	}
}

func CreatePacket(t *testing.T, svc packet.Service) packet.ExamPacket {
	pkt, err := svc.CreatePacket(context.Background(), NewPacket())
	if err != nil {
		t.Fatalf("CreatePacket(): %v", err)
	}
	return pkt
}

// Step is a legal handover on the path of a packet destined for Center1.
type Step struct {
	Direction packet.Direction
	Status    packet.Status
	Location  packet.LocationType
	RegionID  *int64
	ClusterID *int64
	CenterID  *int64
}

func (s Step) Handover() packet.NewHandover {
	return packet.NewHandover{
		Direction:        s.Direction,
		ToLocationType:   s.Location,
		StatusAtHandover: s.Status,
		ToRegionID:       s.RegionID,
		ToClusterID:      s.ClusterID,
		ToCenterID:       s.CenterID,
		SenderStaffID:    Int64(StaffAlice),
		ReceiverStaffID:  Int64(StaffBob),
	}
}

// FullPath lists the handovers taking a packet from created to completed.
func FullPath() []Step {
	fwd, ret := packet.DirectionForward, packet.DirectionReturn
	return []Step{
		{fwd, packet.StatusPacked, packet.LocationHQ, nil, nil, nil},
		{fwd, packet.StatusDispatchedToRegion, packet.LocationRegion, Int64(Region1), nil, nil},
		{fwd, packet.StatusAtRegion, packet.LocationRegion, Int64(Region1), nil, nil},
		{fwd, packet.StatusDispatchedToCluster, packet.LocationCluster, nil, Int64(Cluster1), nil},
		{fwd, packet.StatusAtCluster, packet.LocationCluster, nil, Int64(Cluster1), nil},
		{fwd, packet.StatusDispatchedToCenter, packet.LocationCenter, nil, nil, Int64(Center1)},
		{fwd, packet.StatusAtCenter, packet.LocationCenter, nil, nil, Int64(Center1)},
		{fwd, packet.StatusOpened, packet.LocationCenter, nil, nil, Int64(Center1)},
		{fwd, packet.StatusAdministered, packet.LocationCenter, nil, nil, Int64(Center1)},
		{fwd, packet.StatusCollected, packet.LocationCenter, nil, nil, Int64(Center1)},
		{ret, packet.StatusReturnedToCluster, packet.LocationCluster, nil, Int64(Cluster1), nil},
		{ret, packet.StatusReturnedToRegion, packet.LocationRegion, Int64(Region1), nil, nil},
		{ret, packet.StatusReturnedToHQ, packet.LocationHQ, nil, nil, nil},
		{ret, packet.StatusCompleted, packet.LocationHQ, nil, nil, nil},
	}
}

// Walk records the given steps on the packet, failing the test on the first error.
func Walk(t *testing.T, svc packet.Service, packetID string, steps ...Step) {
	for _, step := range steps {
		if _, err := svc.RecordHandover(context.Background(), packetID, step.Handover()); err != nil {
			t.Fatalf("RecordHandover(%s): %v", step.Status, err)
		}
	}
}

// PrepareDB connects to the test database, migrates it and wipes the packet tables.
// The test is skipped when no database is reachable.
func PrepareDB(t *testing.T) *sqlx.DB {
	c := Config()
	dbOnce.Do(func() { dbErr = database.CreateIfNotExist(c) })
	if dbErr != nil {
		t.Skipf("test database unavailable: %v", dbErr)
	}
	db, err := database.Connect(c)
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		t.Fatalf("Migrate(): %v", err)
	}
	if _, err = db.Exec("TRUNCATE packet_handover_logs, exam_packets"); err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
	SeedReferences(t, db)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SeedReferences inserts the test reference records, keeping existing ones.
func SeedReferences(t *testing.T, db *sqlx.DB) {
	rows := []struct {
		table string
		id    int64
		name  string
	}{
		{"exam_years", ExamYear2024, "2024"},
		{"subjects", SubjectMaths, "Mathematics"},
		{"subjects", SubjectPhys, "Physics"},
		{"grades", int64(Grade8), "Grade 8"},
		{"regions", Region1, "Central"},
		{"regions", Region2, "Coast"},
		{"clusters", Cluster1, "Central North"},
		{"centers", Center1, "Central High School"},
		{"centers", Center2, "Lakeside Academy"},
		{"staff", StaffAlice, "Alice Wanjiru"},
		{"staff", StaffBob, "Bob Otieno"},
	}
	for _, row := range rows {
		q := "INSERT INTO " + row.table + " (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING"
		if _, err := db.Exec(q, row.id, row.name); err != nil {
			t.Fatalf("seeding %s: %v", row.table, err)
		}
	}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
