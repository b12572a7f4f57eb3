package store

import (
	"context"
	"embed"
	nativeerrors "errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/lefinal/vr-arbiter/errors"
	"go.uber.org/zap"
)

// metaTable is the key-value table holding the database version.
const metaTable = "vr_arbiter_meta"

// dbVersionKey is the key in metaTable for the database version.
const dbVersionKey = "db-version"

// pgErrUndefinedTable is the Postgres error code for a missing relation.
const pgErrUndefinedTable = "42P01"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is a single database migration. Migrations are named after the
// version they migrate to.
type migration struct {
	version *semver.Version
	up      string
}

// loadMigrations reads all embedded migrations ordered by version.
func loadMigrations() ([]migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "read migrations dir", nil)
	}
	migrations := make([]migration, 0, len(entries))
	for _, entry := range entries {
		versionStr := strings.TrimSuffix(entry.Name(), ".sql")
		version, err := semver.NewVersion(versionStr)
		if err != nil {
			return nil, errors.NewInternalErrorFromErr(err, "invalid migration version",
				errors.Details{"file": entry.Name()})
		}
		up, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, errors.NewInternalErrorFromErr(err, "read migration", errors.Details{"file": entry.Name()})
		}
		migrations = append(migrations, migration{
			version: version,
			up:      string(up),
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version.LessThan(migrations[j].version)
	})
	for i := 1; i < len(migrations); i++ {
		if migrations[i].version.Equal(migrations[i-1].version) {
			return nil, errors.Error{
				Code:    errors.ErrInternal,
				Kind:    errors.KindShouldNotHappen,
				Message: fmt.Sprintf("duplicate database version %v in available migrations", migrations[i].version),
			}
		}
	}
	return migrations, nil
}

// migrationsToDo returns all migrations that are newer than the given version.
// If the current version is nil, all migrations are returned. A current
// version that is newer than the latest migration is an error as this binary
// would not know the schema.
func migrationsToDo(current *semver.Version, migrations []migration) ([]migration, error) {
	if current == nil {
		return migrations, nil
	}
	if len(migrations) > 0 && current.GreaterThan(migrations[len(migrations)-1].version) {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Message: fmt.Sprintf("database version %v is newer than the latest known one", current),
			Details: errors.Details{"version": current.String()},
		}
	}
	todo := make([]migration, 0)
	for _, m := range migrations {
		if m.version.GreaterThan(current) {
			todo = append(todo, m)
		}
	}
	return todo, nil
}

// Migrate performs all needed database migrations in a single transaction.
func (m *Mall) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return errors.Wrap(err, "load migrations", nil)
	}
	current, err := m.currentDBVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieve current db version", nil)
	}
	if current == nil {
		m.logger.Info("database not initialized")
	} else {
		m.logger.Info("current database version", zap.String("version", current.String()))
	}
	todo, err := migrationsToDo(current, migrations)
	if err != nil {
		return errors.Wrap(err, "get db migrations to do", nil)
	}
	// Check if migrations need to be performed.
	if len(todo) == 0 {
		return nil
	}
	// Begin tx for avoiding database destruction if something fails.
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return errors.NewDBTxBeginError(err)
	}
	for i, migration := range todo {
		m.logger.Info(fmt.Sprintf("performing database migration %d/%d...", i+1, len(todo)),
			zap.String("target_version", migration.version.String()))
		_, err = tx.Exec(ctx, migration.up)
		if err != nil {
			m.rollbackTx(ctx, tx, "database migration failed")
			return errors.NewExecQueryError(err, "perform migration", migration.up)
		}
	}
	// Update database version.
	q, err := updateDBVersionQuery(m.dialect, current == nil, todo[len(todo)-1].version)
	if err != nil {
		m.rollbackTx(ctx, tx, "update database version query to sql failed")
		return errors.Wrap(err, "update db version query", nil)
	}
	_, err = tx.Exec(ctx, q)
	if err != nil {
		m.rollbackTx(ctx, tx, "update database version failed")
		return errors.NewExecQueryError(err, "update db version", q)
	}
	err = tx.Commit(ctx)
	if err != nil {
		return errors.NewDBTxCommitError(err)
	}
	return nil
}

// updateDBVersionQuery builds the query for setting the database version.
func updateDBVersionQuery(dialect goqu.DialectWrapper, initial bool, version *semver.Version) (string, error) {
	var q string
	var err error
	if initial {
		q, _, err = dialect.Insert(goqu.T(metaTable)).Rows(goqu.Record{
			"key":   dbVersionKey,
			"value": version.String(),
		}).ToSQL()
	} else {
		q, _, err = dialect.Update(goqu.T(metaTable)).
			Set(goqu.Record{"value": version.String()}).
			Where(goqu.C("key").Eq(dbVersionKey)).ToSQL()
	}
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"version": version.String()})
	}
	return q, nil
}

// currentDBVersion retrieves the current database version. If the database is
// not initialized yet, nil is returned.
func (m *Mall) currentDBVersion(ctx context.Context) (*semver.Version, error) {
	q, _, err := m.dialect.From(goqu.T(metaTable)).
		Select(goqu.C("value")).
		Where(goqu.C("key").Eq(dbVersionKey)).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, errors.Details{"key": dbVersionKey})
	}
	var versionStr string
	err = m.db.QueryRow(ctx, q).Scan(&versionStr)
	if err != nil {
		if nativeerrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		// Check if the error occurred because of the table not existing.
		var pgErr *pgconn.PgError
		if nativeerrors.As(err, &pgErr) && pgErr.Code == pgErrUndefinedTable {
			return nil, nil
		}
		return nil, errors.NewScanDBRowError(err, "retrieve db version", q)
	}
	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "invalid database version",
			Details: errors.Details{"version": versionStr},
		}
	}
	return version, nil
}
