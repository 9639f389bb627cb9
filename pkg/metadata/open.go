package metadata

import (
	"fmt"
	"time"
)

// Open selects and connects a Backend by kind ("bolt" or "sqlite"), then
// runs Migrate against it before returning. path is the bolt file or the
// sqlite file; poolSize/recycle only apply to sqlite.
func Open(kind, path string, poolSize int, recycle time.Duration) (Backend, error) {
	var b Backend
	var err error

	switch kind {
	case "", "bolt":
		b, err = NewBoltBackend(path)
	case "sqlite":
		b, err = NewSQLiteBackend(path, poolSize, recycle)
	default:
		return nil, fmt.Errorf("metadata: unknown backend kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(b); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}
