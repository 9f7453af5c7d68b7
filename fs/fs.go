package appfs

import "embed"

// FS holds the files embedded in the binary.
//go:embed migrations
var FS embed.FS
