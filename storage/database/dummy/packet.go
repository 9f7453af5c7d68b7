package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
)

type packetRepository struct {
	db *packetTable
}

var _ packet.Repository = (*packetRepository)(nil) // interface compliance check

func NewPacketRepository(db *DB) packet.Repository {
	return &packetRepository{db: db.packet}
}

func (repo *packetRepository) query() []packet.ExamPacket {
	pkts := make([]packet.ExamPacket, 0, len(repo.db.table))
	for _, p := range repo.db.table {
		pkts = append(pkts, *p)
	}
	return pkts
}

func (repo *packetRepository) CreatePacket(_ context.Context, pkt packet.ExamPacket) (packet.ExamPacket, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, p := range repo.db.table {
		if p.Barcode == pkt.Barcode {
			return packet.ExamPacket{}, packet.ErrBarcodeExists
		}
	}
	pkt.Version = 1
	repo.db.table[pkt.ID] = &pkt
	return pkt, nil
}

func (repo *packetRepository) GetPacket(_ context.Context, filter packet.GetFilter) (packet.ExamPacket, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if pkt, ok := repo.db.table[filter.ID]; ok {
			return *pkt, nil
		}
		return packet.ExamPacket{}, packet.ErrNotFound
	}
	for _, pkt := range repo.db.table {
		if filter.Barcode != "" && strings.EqualFold(pkt.Barcode, filter.Barcode) {
			return *pkt, nil
		}
	}
	return packet.ExamPacket{}, packet.ErrNotFound
}

func (repo *packetRepository) QueryPackets(
	_ context.Context,
	filter *packet.QueryFilter,
	page core.Page,
	ordering []core.DBOrdering,
) ([]packet.ExamPacket, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	pkts := filterPackets(repo.query(), filter)
	sortPackets(pkts, ordering)

	if page.Offset >= len(pkts) {
		return []packet.ExamPacket{}, nil
	}
	pkts = pkts[page.Offset:]
	if page.Limit > 0 && page.Limit < len(pkts) {
		pkts = pkts[:page.Limit]
	}
	return pkts, nil
}

func (repo *packetRepository) CountPacketsByStatus(_ context.Context, filter *packet.QueryFilter) (map[packet.Status]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counts := make(map[packet.Status]int)
	for _, pkt := range filterPackets(repo.query(), filter) {
		counts[pkt.Status]++
	}
	return counts, nil
}

func (repo *packetRepository) QueryHandovers(_ context.Context, packetID string) ([]packet.HandoverLog, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	hlogs := make([]packet.HandoverLog, len(repo.db.handovers[packetID]))
	copy(hlogs, repo.db.handovers[packetID])
	return hlogs, nil
}

// AppendHandover builds the transition from a snapshot taken under the read lock,
// then commits it only if the packet version did not move in between.
func (repo *packetRepository) AppendHandover(
	_ context.Context,
	packetID string,
	build packet.TransitionFunc,
) (packet.HandoverLog, error) {
	repo.db.RLock()
	pkt, ok := repo.db.table[packetID]
	var current packet.ExamPacket
	if ok {
		current = *pkt
	}
	repo.db.RUnlock()
	if !ok {
		return packet.HandoverLog{}, packet.ErrNotFound
	}

	trans, err := build(current)
	if err != nil {
		return packet.HandoverLog{}, err
	}

	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.db.table[packetID].Version != trans.PrevVersion() {
		return packet.HandoverLog{}, packet.ErrConflict
	}
	updated := trans.Packet
	repo.db.table[packetID] = &updated
	repo.db.handovers[packetID] = append(repo.db.handovers[packetID], trans.Handover)
	return trans.Handover, nil
}

func filterPackets(pkts []packet.ExamPacket, filter *packet.QueryFilter) []packet.ExamPacket {
	if filter.IsEmpty() {
		return pkts
	}
	filtered := make([]packet.ExamPacket, 0, len(pkts))
	for _, p := range pkts {
		if matches(p, filter) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

func matches(p packet.ExamPacket, f *packet.QueryFilter) bool {
	switch {
	case f.Barcode != "" && f.BarcodeExact && !strings.EqualFold(p.Barcode, f.Barcode),
		f.Barcode != "" && !f.BarcodeExact && !strings.Contains(strings.ToUpper(p.Barcode), strings.ToUpper(f.Barcode)),
		f.Status != "" && p.Status != f.Status,
		f.ExamYearID != 0 && p.ExamYearID != f.ExamYearID,
		f.Grade != 0 && p.Grade != f.Grade,
		f.SubjectID != 0 && p.SubjectID != f.SubjectID,
		f.DestinationCenterID != 0 && p.DestinationCenterID != f.DestinationCenterID,
		f.LocationType != "" && p.CurrentLocationType != f.LocationType:
		return false
	}
	return true
}

// sortPackets sorts by ordering, ties broken by id.
func sortPackets(pkts []packet.ExamPacket, ordering []core.DBOrdering) {
	sort.SliceStable(pkts, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareField(pkts[i], pkts[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return pkts[i].ID < pkts[j].ID
	})
}

func compareField(a, b packet.ExamPacket, field string) int {
	switch field {
	case "created_at":
		return compareInt(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	case "updated_at":
		return compareInt(a.UpdatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	case "last_handover_at":
		var at, bt int64
		if a.LastHandoverAt != nil {
			at = a.LastHandoverAt.UnixNano()
		}
		if b.LastHandoverAt != nil {
			bt = b.LastHandoverAt.UnixNano()
		}
		return compareInt(at, bt)
	case "barcode":
		return strings.Compare(a.Barcode, b.Barcode)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "grade":
		return compareInt(int64(a.Grade), int64(b.Grade))
	case "exam_year_id":
		return compareInt(a.ExamYearID, b.ExamYearID)
	case "subject_id":
		return compareInt(a.SubjectID, b.SubjectID)
	case "paper_count":
		return compareInt(int64(a.PaperCount), int64(b.PaperCount))
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
