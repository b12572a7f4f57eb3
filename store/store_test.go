package store

import (
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/doug-martin/goqu/v9"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err, "should not fail")
	require.NotEmpty(t, migrations, "should have migrations")
	versions := make([]string, 0, len(migrations))
	for _, m := range migrations {
		versions = append(versions, m.version.String())
		assert.NotEmpty(t, m.up, "migration should not be empty")
	}
	assert.Equal(t, []string{"1.0.0", "1.1.0", "1.1.1"}, versions, "should be ordered by version")
	assert.Contains(t, migrations[0].up, metaTable, "first migration should create meta table")
}

// migrationsToDoSuite tests migrationsToDo.
type migrationsToDoSuite struct {
	suite.Suite
	migrations []migration
}

func (suite *migrationsToDoSuite) SetupTest() {
	suite.migrations = []migration{
		{version: semver.MustParse("1.0"), up: "a"},
		{version: semver.MustParse("1.2"), up: "b"},
		{version: semver.MustParse("1.10"), up: "c"},
	}
}

func (suite *migrationsToDoSuite) TestNotInitialized() {
	todo, err := migrationsToDo(nil, suite.migrations)
	suite.Require().NoError(err)
	suite.Equal(suite.migrations, todo, "should do all")
}

func (suite *migrationsToDoSuite) TestLatest() {
	todo, err := migrationsToDo(semver.MustParse("1.10"), suite.migrations)
	suite.Require().NoError(err)
	suite.Empty(todo, "should do none")
}

func (suite *migrationsToDoSuite) TestPartial() {
	todo, err := migrationsToDo(semver.MustParse("1.2"), suite.migrations)
	suite.Require().NoError(err)
	suite.Require().Len(todo, 1)
	suite.Equal("c", todo[0].up, "should compare versions semantically")
}

func (suite *migrationsToDoSuite) TestBetween() {
	todo, err := migrationsToDo(semver.MustParse("1.1"), suite.migrations)
	suite.Require().NoError(err)
	suite.Len(todo, 2)
}

func (suite *migrationsToDoSuite) TestNewerThanKnown() {
	_, err := migrationsToDo(semver.MustParse("2.0"), suite.migrations)
	suite.Require().Error(err, "should fail")
	suite.True(errors.Is(err, errors.KindDB), "should be db error")
}

func TestMigrationsToDo(t *testing.T) {
	suite.Run(t, new(migrationsToDoSuite))
}

func TestUpdateDBVersionQuery(t *testing.T) {
	dialect := goqu.Dialect("postgres")
	t.Run("initial", func(t *testing.T) {
		q, err := updateDBVersionQuery(dialect, true, semver.MustParse("1.1"))
		require.NoError(t, err)
		assert.Contains(t, q, `INSERT INTO "vr_arbiter_meta"`)
		assert.Contains(t, q, `'1.1.0'`)
	})
	t.Run("update", func(t *testing.T) {
		q, err := updateDBVersionQuery(dialect, false, semver.MustParse("1.1.1"))
		require.NoError(t, err)
		assert.Contains(t, q, `UPDATE "vr_arbiter_meta"`)
		assert.Contains(t, q, `'1.1.1'`)
		assert.Contains(t, q, `"key" = 'db-version'`)
	})
}

func TestRecordDisplaySeenQuery(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q, err := recordDisplaySeenQuery(goqu.Dialect("postgres"), vr.DisplayData{
		DisplayID:   4,
		DisplayName: "Mock VR Display 1",
		Capabilities: vr.Capabilities{
			CanPresent: true,
		},
	}, at)
	require.NoError(t, err)
	assert.Contains(t, q, `INSERT INTO "displays"`)
	assert.Contains(t, q, `'Mock VR Display 1'`)
	assert.Contains(t, q, `ON CONFLICT (name) DO UPDATE SET`)
}

func TestStartPresentSessionQuery(t *testing.T) {
	t.Run("with context", func(t *testing.T) {
		q, err := startPresentSessionQuery(goqu.Dialect("postgres"), PresentSession{
			DisplayName: "Mock VR Display 1",
			DisplayID:   1,
			Context:     nulls.NewString("tab-a"),
			Started:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Contains(t, q, `INSERT INTO "present_sessions"`)
		assert.Contains(t, q, `'tab-a'`)
		assert.Contains(t, q, `RETURNING "id"`)
	})
	t.Run("without context", func(t *testing.T) {
		q, err := startPresentSessionQuery(goqu.Dialect("postgres"), PresentSession{
			DisplayName: "Mock VR Display 1",
			DisplayID:   1,
			Started:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Contains(t, q, `NULL`, "should insert null context")
	})
}

func TestEndPresentSessionsQuery(t *testing.T) {
	q, err := endPresentSessionsQuery(goqu.Dialect("postgres"), 3, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, q, `UPDATE "present_sessions"`)
	assert.Contains(t, q, `"display_id" = 3`)
	assert.Contains(t, q, `"ended" IS NULL`)
}
