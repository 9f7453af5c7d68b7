package sqlxrepos

var EscapeLike = escapeLike
