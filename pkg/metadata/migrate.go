package metadata

import (
	"fmt"
	"time"

	"github.com/cachehub/mirror/pkg/types"
)

// Migration is one idempotent, strictly-ordered schema step. Apply must be
// safe to call against a Backend whose underlying buckets/tables were
// already created at connect time — migrations describe incremental
// changes beyond that baseline.
type Migration struct {
	Version     int
	Description string
	Apply       func(Backend) error
}

// migrations is the ordered list applied by Migrate. Baseline bucket/table
// creation happens in each backend's constructor; this list is where
// future incremental schema changes are appended.
var migrations = []Migration{
	{
		Version:     1,
		Description: "baseline schema (files, downloads, sync_runs, cache, monitor, webhooks, users, api_keys)",
		Apply:       func(Backend) error { return nil },
	},
}

// Migrate applies every migration in migrations whose version has not yet
// been recorded, in ascending order, each guarded by its own row in the
// schema-version table so a half-applied run resumes correctly.
func Migrate(b Backend) error {
	applied := map[int]bool{}
	versions, err := b.SchemaVersions()
	if err != nil {
		return fmt.Errorf("metadata: reading schema versions: %w", err)
	}
	for _, v := range versions {
		applied[v.Version] = true
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := m.Apply(b); err != nil {
			return fmt.Errorf("metadata: migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := b.RecordSchemaVersion(types.SchemaVersion{
			Version:     m.Version,
			AppliedAt:   time.Now(),
			Description: m.Description,
		}); err != nil {
			return fmt.Errorf("metadata: recording migration %d: %w", m.Version, err)
		}
	}
	return nil
}
