// Package reference defines the read-only lookups (exam years, subjects, grades,
// organisational hierarchy and staff) that packet tracking depends on.
// The records themselves are owned by the rest of the portal.
package reference

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("reference not found")

// Kind names a family of reference records.
type Kind string

const (
	KindExamYear Kind = "exam_year"
	KindSubject  Kind = "subject"
	KindGrade    Kind = "grade"
	KindRegion   Kind = "region"
	KindCluster  Kind = "cluster"
	KindCenter   Kind = "center"
	KindStaff    Kind = "staff"
)

// Entity is a resolved reference record.
type Entity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Directory resolves reference ids. Implementations return ErrNotFound for unknown ids.
type Directory interface {
	Lookup(ctx context.Context, kind Kind, id int64) (Entity, error)
}

// Resolve returns the display name of a reference, or "" when it cannot be resolved.
func Resolve(ctx context.Context, dir Directory, kind Kind, id *int64) string {
	if id == nil {
		return ""
	}
	ent, err := dir.Lookup(ctx, kind, *id)
	if err != nil {
		return ""
	}
	return ent.Name
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu      sync.RWMutex
	records map[Kind]map[int64]Entity
}

var _ Directory = (*StaticDirectory)(nil)

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{records: make(map[Kind]map[int64]Entity)}
}

// Add registers (or replaces) a record and returns the directory for chaining.
func (dir *StaticDirectory) Add(kind Kind, id int64, name string) *StaticDirectory {
	dir.mu.Lock()
	defer dir.mu.Unlock()

	tbl, ok := dir.records[kind]
	if !ok {
		tbl = make(map[int64]Entity)
		dir.records[kind] = tbl
	}
	tbl[id] = Entity{ID: id, Name: name}
	return dir
}

func (dir *StaticDirectory) Lookup(_ context.Context, kind Kind, id int64) (Entity, error) {
	dir.mu.RLock()
	defer dir.mu.RUnlock()

	if ent, ok := dir.records[kind][id]; ok {
		return ent, nil
	}
	return Entity{}, ErrNotFound
}
