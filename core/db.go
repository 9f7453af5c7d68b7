package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Page limits a listing. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) IsZero() bool { return p.Limit == 0 && p.Offset == 0 }
