package migration

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
)

//go:embed init.sql
var initSQL string

// RunMigrations applies the schema from path, or the embedded copy when the
// file is not available next to the binary.
func RunMigrations(ctx context.Context, db *sql.DB, path string, logger *slog.Logger) error {
	script := initSQL
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("could not read migration file, using embedded schema", "path", path, "error", err)
		} else {
			script = string(content)
		}
	}

	if _, err := db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("migrations completed")
	return nil
}
