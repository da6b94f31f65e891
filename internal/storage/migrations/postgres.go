package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/sirupsen/logrus"

	"multipair-engine/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are idempotent, so this runs on every startup.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		logger.WithField("file", file).Debug("applied postgres migration")
	}

	return nil
}
