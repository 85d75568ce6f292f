package commands

import (
	"database/sql"

	"github.com/assessly/codermill/config"
	"github.com/assessly/codermill/db"
	"github.com/assessly/codermill/errors"
	"github.com/assessly/codermill/logger"
)

// openDatabase opens the configured database and applies pending
// migrations. pathOverride takes precedence over the config file.
func openDatabase(pathOverride string) (*sql.DB, error) {
	path := pathOverride
	if path == "" {
		var err error
		path, err = config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve database path")
		}
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return database, nil
}
