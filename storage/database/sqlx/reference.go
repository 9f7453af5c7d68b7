package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mitihani/core/reference"
)

var referenceTables = map[reference.Kind]string{
	reference.KindExamYear: "exam_years",
	reference.KindSubject:  "subjects",
	reference.KindGrade:    "grades",
	reference.KindRegion:   "regions",
	reference.KindCluster:  "clusters",
	reference.KindCenter:   "centers",
	reference.KindStaff:    "staff",
}

type referenceDirectory struct {
	db *sqlx.DB
}

var _ reference.Directory = (*referenceDirectory)(nil) // interface compliance check

// NewReferenceDirectory reads the portal reference tables.
func NewReferenceDirectory(db *sqlx.DB) reference.Directory {
	return &referenceDirectory{db: db}
}

func (dir *referenceDirectory) Lookup(ctx context.Context, kind reference.Kind, id int64) (reference.Entity, error) {
	table, ok := referenceTables[kind]
	if !ok {
		return reference.Entity{}, errors.Errorf("unknown reference kind %q", kind)
	}

	var ent reference.Entity
	q := fmt.Sprintf("SELECT id, name FROM %s WHERE id = $1", table)
	if err := dir.db.GetContext(ctx, &ent, q, id); err != nil {
		if err == sql.ErrNoRows {
			return reference.Entity{}, reference.ErrNotFound
		}
		return reference.Entity{}, errors.Wrapf(err, "looking up %s", kind)
	}
	return ent, nil
}
