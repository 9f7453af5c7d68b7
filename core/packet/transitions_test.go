package packet

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mitihani/core"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		fromTier LocationType
		dir      Direction
		to       Status
		toTier   LocationType
		wantErr  bool
	}{
		{"created -> packed", StatusCreated, LocationHQ, DirectionForward, StatusPacked, LocationHQ, false},
		{"packed -> dispatched_to_region", StatusPacked, LocationHQ, DirectionForward, StatusDispatchedToRegion, LocationRegion, false},
		{"at_center -> opened", StatusAtCenter, LocationCenter, DirectionForward, StatusOpened, LocationCenter, false},
		{"collected -> returned_to_cluster", StatusCollected, LocationCenter, DirectionReturn, StatusReturnedToCluster, LocationCluster, false},
		{"returned_to_hq -> completed", StatusReturnedToHQ, LocationHQ, DirectionReturn, StatusCompleted, LocationHQ, false},
		{"missing from anywhere", StatusDispatchedToCluster, LocationCluster, DirectionForward, StatusMissing, LocationRegion, false},
		{"damaged on return", StatusReturnedToRegion, LocationRegion, DirectionReturn, StatusDamaged, LocationRegion, false},
		{"damaged from created", StatusCreated, LocationHQ, DirectionReturn, StatusDamaged, LocationHQ, false},
		{"created -> dispatched_to_region", StatusCreated, LocationHQ, DirectionForward, StatusDispatchedToRegion, LocationRegion, false},

		{"skip a status", StatusCreated, LocationHQ, DirectionForward, StatusAtRegion, LocationRegion, true},
		{"skip a status after packing", StatusPacked, LocationHQ, DirectionForward, StatusAtRegion, LocationRegion, true},
		{"dispatch from created to the wrong tier", StatusCreated, LocationHQ, DirectionForward, StatusDispatchedToRegion, LocationHQ, true},
		{"repeat a status", StatusDispatchedToRegion, LocationRegion, DirectionForward, StatusDispatchedToRegion, LocationRegion, true},
		{"backwards", StatusAtRegion, LocationRegion, DirectionForward, StatusDispatchedToRegion, LocationRegion, true},
		{"wrong tier", StatusPacked, LocationHQ, DirectionForward, StatusDispatchedToRegion, LocationCluster, true},
		{"return before collection", StatusAtCenter, LocationCenter, DirectionReturn, StatusReturnedToCluster, LocationCluster, true},
		{"forward after collection", StatusCollected, LocationCenter, DirectionForward, StatusReturnedToCluster, LocationCluster, true},
		{"from completed", StatusCompleted, LocationHQ, DirectionForward, StatusPacked, LocationHQ, true},
		{"from missing", StatusMissing, LocationRegion, DirectionForward, StatusAtRegion, LocationRegion, true},
		{"damaged after missing", StatusMissing, LocationRegion, DirectionForward, StatusDamaged, LocationRegion, true},
		{"missing after completed", StatusCompleted, LocationHQ, DirectionReturn, StatusMissing, LocationHQ, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.from, tt.fromTier, tt.dir, tt.to, tt.toTier)
			if tt.wantErr {
				var terr *InvalidTransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, tt.from, terr.From)
				assert.Equal(t, tt.to, terr.To)
				assert.True(t, IsInvalidTransition(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckTransition_Exhaustive(t *testing.T) {
	// only a created packet may choose between two path successors; terminal statuses have none
	for _, from := range AllStatuses {
		fromTier, _ := from.Tier()
		for _, dir := range []Direction{DirectionForward, DirectionReturn} {
			var legal []Status
			for _, to := range AllStatuses {
				if to.IsIncident() {
					continue
				}
				tier, _ := to.Tier()
				if CheckTransition(from, fromTier, dir, to, tier) == nil {
					legal = append(legal, to)
				}
			}
			switch {
			case from.IsTerminal():
				assert.Empty(t, legal, "%s %s", from, dir)
			case from == StatusCreated && dir == DirectionForward:
				assert.Equal(t, []Status{StatusPacked, StatusDispatchedToRegion}, legal)
			default:
				assert.LessOrEqual(t, len(legal), 1, "%s %s", from, dir)
			}
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.Len(t, AllStatuses, 17)
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusMissing.IsTerminal())
	assert.True(t, StatusDamaged.IsIncident())
	assert.False(t, StatusCollected.IsTerminal())
	assert.False(t, StatusCollected.IsReturn())
	assert.True(t, StatusReturnedToHQ.IsReturn())
	assert.True(t, StatusCompleted.IsReturn())
	assert.False(t, Status("lost").IsValid())
	assert.False(t, LocationType("school").IsValid())
	assert.False(t, Direction("sideways").IsValid())

	tier, ok := StatusMissing.Tier()
	assert.False(t, ok)
	assert.Empty(t, tier)
}

func TestValidateLocation(t *testing.T) {
	id := int64(7)
	tests := []struct {
		name       string
		tier       LocationType
		region     *int64
		cluster    *int64
		center     *int64
		wantFields []string
	}{
		{name: "hq", tier: LocationHQ},
		{name: "region", tier: LocationRegion, region: &id},
		{name: "cluster", tier: LocationCluster, cluster: &id},
		{name: "center", tier: LocationCenter, center: &id},
		{name: "hq with region", tier: LocationHQ, region: &id, wantFields: []string{"region_id"}},
		{name: "region without id", tier: LocationRegion, wantFields: []string{"region_id"}},
		{name: "center with cluster", tier: LocationCenter, cluster: &id, center: &id, wantFields: []string{"cluster_id"}},
		{name: "cluster with center only", tier: LocationCluster, center: &id, wantFields: []string{"cluster_id", "center_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLocation(tt.tier, tt.region, tt.cluster, tt.center)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			var flds []string
			for _, fld := range verr.Fields {
				flds = append(flds, fld.Field)
			}
			assert.Equal(t, tt.wantFields, flds)
		})
	}
}

func TestGenerateBarcode(t *testing.T) {
	re := regexp.MustCompile(`^EP2024-[0-9A-F]{10}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		bc := generateBarcode(2024)
		assert.Regexp(t, re, bc)
		assert.False(t, seen[bc], "duplicate barcode %s", bc)
		seen[bc] = true
	}
}
