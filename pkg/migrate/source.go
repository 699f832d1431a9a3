package migrate

import (
	"embed"
	"io/fs"
	"os"
)

// DefaultDir is where new migrations are written and where the embedded set
// is read from at build time.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source resolves dir to a migration filesystem. An empty dir selects the
// embedded set so deployed binaries do not depend on the working directory.
func Source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}
