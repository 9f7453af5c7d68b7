package sqlxrepos_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
	"github.com/trezcool/mitihani/core/reference"
	"github.com/trezcool/mitihani/storage/database/sqlx"
	"github.com/trezcool/mitihani/tests"
)

func newService(t *testing.T, db *sqlx.DB) (packet.Service, packet.Repository) {
	repo := sqlxrepos.NewPacketRepository(db)
	svc, _ := testutil.NewDummyService(t, func(deps *packet.Deps) {
		deps.Repo = repo
		deps.Directory = sqlxrepos.NewReferenceDirectory(db)
	})
	return svc, repo
}

func TestReferenceDirectory_Lookup(t *testing.T) {
	db := testutil.PrepareDB(t)
	dir := sqlxrepos.NewReferenceDirectory(db)
	ctx := context.Background()

	tests := []struct {
		name     string
		kind     reference.Kind
		id       int64
		wantName string
		wantErr  error
	}{
		{name: "center", kind: reference.KindCenter, id: testutil.Center1, wantName: "Central High School"},
		{name: "staff", kind: reference.KindStaff, id: testutil.StaffBob, wantName: "Bob Otieno"},
		{name: "grade", kind: reference.KindGrade, id: int64(testutil.Grade8), wantName: "Grade 8"},
		{name: "unknown id", kind: reference.KindRegion, id: 999, wantErr: reference.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent, err := dir.Lookup(ctx, tt.kind, tt.id)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, reference.Entity{ID: tt.id, Name: tt.wantName}, ent)
		})
	}

	_, err := dir.Lookup(ctx, reference.Kind("planet"), 1)
	assert.EqualError(t, err, `unknown reference kind "planet"`)
}

func TestPacketRepository_CreateAndGet(t *testing.T) {
	db := testutil.PrepareDB(t)
	svc, repo := newService(t, db)
	ctx := context.Background()

	pkt := testutil.CreatePacket(t, svc)
	assert.Equal(t, 1, pkt.Version)

	dup := pkt
	dup.ID = uuid.New().String()
	_, err := repo.CreatePacket(ctx, dup)
	assert.Equal(t, packet.ErrBarcodeExists, errors.Cause(err))

	byID, err := repo.GetPacket(ctx, packet.GetFilter{ID: pkt.ID})
	require.NoError(t, err)
	assert.Equal(t, pkt.Barcode, byID.Barcode)
	assert.Equal(t, pkt.DestinationRegionID, byID.DestinationRegionID)
	assert.Nil(t, byID.LastHandoverAt)
	assert.True(t, pkt.CreatedAt.Equal(byID.CreatedAt))

	byBarcode, err := repo.GetPacket(ctx, packet.GetFilter{Barcode: pkt.Barcode})
	require.NoError(t, err)
	assert.Equal(t, pkt.ID, byBarcode.ID)

	_, err = repo.GetPacket(ctx, packet.GetFilter{ID: uuid.New().String()})
	assert.Equal(t, packet.ErrNotFound, errors.Cause(err))
}

func TestPacketRepository_Lifecycle(t *testing.T) {
	db := testutil.PrepareDB(t)
	svc, repo := newService(t, db)
	ctx := context.Background()

	pkt := testutil.CreatePacket(t, svc)
	steps := testutil.FullPath()
	testutil.Walk(t, svc, pkt.ID, steps...)

	got, err := svc.GetPacket(ctx, pkt.ID)
	require.NoError(t, err)
	assert.Equal(t, packet.StatusCompleted, got.Status)
	assert.Equal(t, packet.LocationHQ, got.CurrentLocationType)
	assert.Equal(t, len(steps)+1, got.Version)

	hlogs, err := repo.QueryHandovers(ctx, pkt.ID)
	require.NoError(t, err)
	require.Len(t, hlogs, len(steps))
	for i, h := range hlogs {
		assert.Equal(t, steps[i].Status, h.StatusAtHandover)
		if i > 0 {
			assert.True(t, h.HandoverTime.After(hlogs[i-1].HandoverTime), "handover %d is not after %d", i, i-1)
		}
	}
	assert.Equal(t, testutil.Int64(testutil.Region1), hlogs[1].ToRegionID)
	assert.Equal(t, packet.LocationHQ, hlogs[1].FromLocationType)
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"EP0001-AB": "EP0001-AB",
		"%":         `\%`,
		"EP_01":     `EP\_01`,
		`a\b%_`:     `a\\b\%\_`,
	}
	for in, want := range tests {
		assert.Equal(t, want, sqlxrepos.EscapeLike(in), in)
	}
}

func TestPacketRepository_QueryAndCount(t *testing.T) {
	db := testutil.PrepareDB(t)
	svc, repo := newService(t, db)
	ctx := context.Background()

	a := testutil.CreatePacket(t, svc)
	b := testutil.CreatePacket(t, svc)
	testutil.Walk(t, svc, b.ID, testutil.FullPath()[:2]...)

	tests := []struct {
		name     string
		filter   packet.QueryFilter
		page     core.Page
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all", ordering: []core.DBOrdering{{Field: "status", Ascending: true}}, want: []string{a.ID, b.ID}},
		{name: "descending", ordering: []core.DBOrdering{{Field: "status"}}, want: []string{b.ID, a.ID}},
		{name: "status", filter: packet.QueryFilter{Status: packet.StatusDispatchedToRegion}, want: []string{b.ID}},
		{name: "location", filter: packet.QueryFilter{LocationType: packet.LocationHQ}, want: []string{a.ID}},
		{name: "barcode contains", filter: packet.QueryFilter{Barcode: a.Barcode[3:12]}, want: []string{a.ID}},
		{name: "barcode exact", filter: packet.QueryFilter{Barcode: a.Barcode, BarcodeExact: true}, want: []string{a.ID}},
		{name: "barcode percent is literal", filter: packet.QueryFilter{Barcode: "%"}, want: []string{}},
		{name: "barcode underscore is literal", filter: packet.QueryFilter{Barcode: "EP0001_"}, want: []string{}},
		{name: "center", filter: packet.QueryFilter{DestinationCenterID: testutil.Center2}, want: []string{}},
		{name: "page", page: core.Page{Limit: 1, Offset: 1}, ordering: []core.DBOrdering{{Field: "status", Ascending: true}}, want: []string{b.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordering := tt.ordering
			if ordering == nil {
				ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
			}
			filter := tt.filter
			pkts, err := repo.QueryPackets(ctx, &filter, tt.page, ordering)
			require.NoError(t, err)
			ids := make([]string, 0, len(pkts))
			for _, p := range pkts {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	counts, err := repo.CountPacketsByStatus(ctx, &packet.QueryFilter{ExamYearID: testutil.ExamYear2024})
	require.NoError(t, err)
	assert.Equal(t, map[packet.Status]int{packet.StatusCreated: 1, packet.StatusDispatchedToRegion: 1}, counts)
}

func TestPacketRepository_AppendHandover_Conflict(t *testing.T) {
	db := testutil.PrepareDB(t)
	svc, repo := newService(t, db)
	ctx := context.Background()

	pkt := testutil.CreatePacket(t, svc)
	stale := pkt
	testutil.Walk(t, svc, pkt.ID, testutil.FullPath()[0])

	// the transition is computed against a version that is no longer stored
	_, err := repo.AppendHandover(ctx, pkt.ID, func(packet.ExamPacket) (packet.Transition, error) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		next := stale
		next.Status = packet.StatusMissing
		next.Version = stale.Version + 1
		next.LastHandoverAt = &now
		return packet.Transition{
			Handover: packet.HandoverLog{
				ID:               uuid.New().String(),
				PacketID:         pkt.ID,
				Direction:        packet.DirectionForward,
				FromLocationType: packet.LocationHQ,
				ToLocationType:   packet.LocationHQ,
				StatusAtHandover: packet.StatusMissing,
				HandoverTime:     now,
			},
			Packet: next,
		}, nil
	})
	assert.Equal(t, packet.ErrConflict, errors.Cause(err))

	// the handover insert was rolled back
	hlogs, err := repo.QueryHandovers(ctx, pkt.ID)
	require.NoError(t, err)
	require.Len(t, hlogs, 1)
	assert.Equal(t, packet.StatusPacked, hlogs[0].StatusAtHandover)

	_, err = repo.AppendHandover(ctx, uuid.New().String(), nil)
	assert.Equal(t, packet.ErrNotFound, errors.Cause(err))
}

func TestPacketRepository_AppendHandover_Concurrent(t *testing.T) {
	db := testutil.PrepareDB(t)
	svc, repo := newService(t, db)
	ctx := context.Background()

	pkt := testutil.CreatePacket(t, svc)
	step := testutil.FullPath()[0]

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		invalid  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordHandover(ctx, pkt.ID, step.Handover())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case packet.IsInvalidTransition(err):
				invalid++
			default:
				t.Errorf("RecordHandover() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, workers-1, invalid)

	hlogs, err := repo.QueryHandovers(ctx, pkt.ID)
	require.NoError(t, err)
	assert.Len(t, hlogs, 1)
}
