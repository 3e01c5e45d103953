// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "csvmerge/internal/storage/mssql"
	_ "csvmerge/internal/storage/postgres"
	_ "csvmerge/internal/storage/sqlite"
)
