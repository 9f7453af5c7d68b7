package packet

import (
	"fmt"
	"strings"

	"github.com/trezcool/mitihani/core"
)

// Status is the custody status of an ExamPacket.
type Status string

// Forward path
const (
	StatusCreated             Status = "created"
	StatusPacked              Status = "packed"
	StatusDispatchedToRegion  Status = "dispatched_to_region"
	StatusAtRegion            Status = "at_region"
	StatusDispatchedToCluster Status = "dispatched_to_cluster"
	StatusAtCluster           Status = "at_cluster"
	StatusDispatchedToCenter  Status = "dispatched_to_center"
	StatusAtCenter            Status = "at_center"
	StatusOpened              Status = "opened"
	StatusAdministered        Status = "administered"
	StatusCollected           Status = "collected"
)

// Return path
const (
	StatusReturnedToCluster Status = "returned_to_cluster"
	StatusReturnedToRegion  Status = "returned_to_region"
	StatusReturnedToHQ      Status = "returned_to_hq"
	StatusCompleted         Status = "completed"
)

// Incidents
const (
	StatusMissing Status = "missing"
	StatusDamaged Status = "damaged"
)

// LocationType is a tier of the organisational hierarchy.
type LocationType string

const (
	LocationHQ      LocationType = "hq"
	LocationRegion  LocationType = "region"
	LocationCluster LocationType = "cluster"
	LocationCenter  LocationType = "center"
)

// Direction of a handover along the custody chain.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReturn  Direction = "return"
)

var (
	forwardPath = []Status{
		StatusCreated, StatusPacked,
		StatusDispatchedToRegion, StatusAtRegion,
		StatusDispatchedToCluster, StatusAtCluster,
		StatusDispatchedToCenter, StatusAtCenter,
		StatusOpened, StatusAdministered, StatusCollected,
	}
	returnPath = []Status{
		StatusCollected, StatusReturnedToCluster, StatusReturnedToRegion, StatusReturnedToHQ, StatusCompleted,
	}

	// AllStatuses lists every status: path order first, incidents last.
	AllStatuses = append(append(append([]Status{}, forwardPath...), returnPath[1:]...), StatusMissing, StatusDamaged)

	AllLocationTypes = []LocationType{LocationHQ, LocationRegion, LocationCluster, LocationCenter}

	// statusTier is the location tier a packet must be at when entering a path status.
	statusTier = map[Status]LocationType{
		StatusCreated:             LocationHQ,
		StatusPacked:              LocationHQ,
		StatusDispatchedToRegion:  LocationRegion,
		StatusAtRegion:            LocationRegion,
		StatusDispatchedToCluster: LocationCluster,
		StatusAtCluster:           LocationCluster,
		StatusDispatchedToCenter:  LocationCenter,
		StatusAtCenter:            LocationCenter,
		StatusOpened:              LocationCenter,
		StatusAdministered:        LocationCenter,
		StatusCollected:           LocationCenter,
		StatusReturnedToCluster:   LocationCluster,
		StatusReturnedToRegion:    LocationRegion,
		StatusReturnedToHQ:        LocationHQ,
		StatusCompleted:           LocationHQ,
	}

	// packing at hq is optional: a created packet may be dispatched straight away
	shortcuts = map[transitionKey]Status{
		{StatusCreated, DirectionForward}: StatusDispatchedToRegion,
	}

	legalNext = buildLegalNext()
)

type transitionKey struct {
	from Status
	dir  Direction
}

// buildLegalNext returns the adjacency table of path transitions: {(status, direction): next statuses}.
// Incidents are handled separately since they are reachable from any non-terminal status.
func buildLegalNext() map[transitionKey][]Status {
	next := make(map[transitionKey][]Status, len(forwardPath)+len(returnPath))
	for i := 0; i < len(forwardPath)-1; i++ {
		key := transitionKey{forwardPath[i], DirectionForward}
		next[key] = append(next[key], forwardPath[i+1])
	}
	for i := 0; i < len(returnPath)-1; i++ {
		key := transitionKey{returnPath[i], DirectionReturn}
		next[key] = append(next[key], returnPath[i+1])
	}
	for key, to := range shortcuts {
		next[key] = append(next[key], to)
	}
	return next
}

func isLegalNext(key transitionKey, to Status) bool {
	for _, next := range legalNext[key] {
		if next == to {
			return true
		}
	}
	return false
}

func joinStatuses(statuses []Status) string {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	return strings.Join(names, " or ")
}

func (s Status) IsValid() bool {
	if s.IsIncident() {
		return true
	}
	_, ok := statusTier[s]
	return ok
}

// IsIncident reports whether s is a failure status (missing or damaged).
func (s Status) IsIncident() bool {
	return s == StatusMissing || s == StatusDamaged
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s.IsIncident()
}

// IsReturn reports whether s belongs to the return path (after collection).
func (s Status) IsReturn() bool {
	for _, rs := range returnPath[1:] {
		if s == rs {
			return true
		}
	}
	return false
}

// Tier returns the location tier implied by s. Incidents imply no tier.
func (s Status) Tier() (LocationType, bool) {
	tier, ok := statusTier[s]
	return tier, ok
}

func (lt LocationType) IsValid() bool {
	switch lt {
	case LocationHQ, LocationRegion, LocationCluster, LocationCenter:
		return true
	}
	return false
}

func (d Direction) IsValid() bool {
	return d == DirectionForward || d == DirectionReturn
}

// InvalidTransitionError is returned when a requested status/location change is illegal given the current state.
type InvalidTransitionError struct {
	From         Status       `json:"from"`
	FromLocation LocationType `json:"from_location_type"`
	To           Status       `json:"to"`
	ToLocation   LocationType `json:"to_location_type"`
	Direction    Direction    `json:"direction"`
	Reason       string       `json:"reason"`
}

func (err *InvalidTransitionError) Error() string {
	return fmt.Sprintf(
		"invalid %s transition (%s@%s) -> (%s@%s): %s",
		err.Direction, err.From, err.FromLocation, err.To, err.ToLocation, err.Reason)
}

// CheckTransition tells whether a packet at (from, fromTier) may move to (to, toTier) with a handover in the dir direction.
func CheckTransition(from Status, fromTier LocationType, dir Direction, to Status, toTier LocationType) error {
	reject := func(reason string, args ...interface{}) error {
		return &InvalidTransitionError{
			From:         from,
			FromLocation: fromTier,
			To:           to,
			ToLocation:   toTier,
			Direction:    dir,
			Reason:       fmt.Sprintf(reason, args...),
		}
	}

	if from.IsTerminal() {
		return reject("%s is a terminal status", from)
	}
	// incidents may be declared from anywhere, in any direction
	if to.IsIncident() {
		return nil
	}

	key := transitionKey{from, dir}
	next, ok := legalNext[key]
	if !ok {
		return reject("no %s transition from %s", dir, from)
	}
	if !isLegalNext(key, to) {
		return reject("next %s status after %s is %s", dir, from, joinStatuses(next))
	}
	if tier := statusTier[to]; toTier != tier {
		return reject("%s requires location type %s", to, tier)
	}
	return nil
}

// ValidateLocation checks that exactly the id matching tier is set; hq implies no id at all.
func ValidateLocation(tier LocationType, regionID, clusterID, centerID *int64) error {
	var flds []core.FieldError
	for _, loc := range locationIDs(regionID, clusterID, centerID) {
		switch {
		case loc.tier == tier && loc.id == nil:
			flds = append(flds, core.FieldError{Field: loc.field, Error: locRequiredText})
		case loc.tier != tier && loc.id != nil:
			flds = append(flds, core.FieldError{Field: loc.field, Error: locForbiddenText})
		}
	}
	if len(flds) > 0 {
		names := make([]string, 0, len(flds))
		for _, fld := range flds {
			names = append(names, fld.Field)
		}
		return core.NewValidationError(
			fmt.Errorf("location ids inconsistent with location type %q: %s", tier, strings.Join(names, ", ")),
			flds...)
	}
	return nil
}

type locationID struct {
	field string
	tier  LocationType
	id    *int64
}

func locationIDs(regionID, clusterID, centerID *int64) []locationID {
	return []locationID{
		{field: "region_id", tier: LocationRegion, id: regionID},
		{field: "cluster_id", tier: LocationCluster, id: clusterID},
		{field: "center_id", tier: LocationCenter, id: centerID},
	}
}
