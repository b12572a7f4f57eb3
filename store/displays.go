package store

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
)

// Display is a container for information regarding a seen display.
type Display struct {
	// Name is the display name which identifies displays across runs.
	Name string
	// FirstSeen is the first time the Display was seen.
	FirstSeen time.Time
	// LastSeen is the last time the Display was seen.
	LastSeen time.Time
	// LastDisplayID is the display id in the last run it was seen.
	LastDisplayID vr.DisplayID
	// CanPresent is the presenting capability when last seen.
	CanPresent bool
	// HasExternalDisplay is the external display capability when last seen.
	HasExternalDisplay bool
}

// PresentSession is a recorded presenting session.
type PresentSession struct {
	ID          int
	DisplayName string
	DisplayID   vr.DisplayID
	// Context is the presenting context if known.
	Context nulls.String
	Started time.Time
	// Ended is not set while presenting or if the arbiter stopped unexpectedly.
	Ended nulls.Time
}

// recordDisplaySeenQuery builds the upsert query for RecordDisplaySeen.
func recordDisplaySeenQuery(dialect goqu.DialectWrapper, display vr.DisplayData, at time.Time) (string, error) {
	q, _, err := dialect.Insert(goqu.T("displays")).Rows(goqu.Record{
		"name":                 display.DisplayName,
		"first_seen":           at,
		"last_seen":            at,
		"last_display_id":      display.DisplayID,
		"can_present":          display.Capabilities.CanPresent,
		"has_external_display": display.Capabilities.HasExternalDisplay,
	}).OnConflict(exp.NewDoUpdateConflictExpression("name", goqu.Record{
		"last_seen":            at,
		"last_display_id":      display.DisplayID,
		"can_present":          display.Capabilities.CanPresent,
		"has_external_display": display.Capabilities.HasExternalDisplay,
	})).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"display_name": display.DisplayName})
	}
	return q, nil
}

// RecordDisplaySeen creates the Display with the given data or updates the
// last seen timestamp and capabilities if it is already known.
func (m *Mall) RecordDisplaySeen(ctx context.Context, display vr.DisplayData, at time.Time) error {
	q, err := recordDisplaySeenQuery(m.dialect, display, at)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "record display seen", q)
	}
	return nil
}

// DisplayByName retrieves a Display by its name.
func (m *Mall) DisplayByName(ctx context.Context, name string) (Display, error) {
	// Build query.
	q, _, err := m.dialect.From("displays").
		Select(goqu.C("name"),
			goqu.C("first_seen"),
			goqu.C("last_seen"),
			goqu.C("last_display_id"),
			goqu.C("can_present"),
			goqu.C("has_external_display")).
		Where(goqu.C("name").Eq(name)).ToSQL()
	if err != nil {
		return Display{}, errors.NewQueryToSQLError(err, errors.Details{"name": name})
	}
	// Query.
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return Display{}, errors.NewExecQueryError(err, "query db", q)
	}
	defer rows.Close()
	// Scan.
	if !rows.Next() {
		return Display{}, errors.NewResourceNotFoundError("display not found", errors.Details{"name": name})
	}
	var display Display
	err = rows.Scan(&display.Name,
		&display.FirstSeen,
		&display.LastSeen,
		&display.LastDisplayID,
		&display.CanPresent,
		&display.HasExternalDisplay)
	if err != nil {
		return Display{}, errors.NewScanDBRowError(err, "scan row", q)
	}
	return display, nil
}

// startPresentSessionQuery builds the insert query for StartPresentSession.
func startPresentSessionQuery(dialect goqu.DialectWrapper, session PresentSession) (string, error) {
	q, _, err := dialect.Insert(goqu.T("present_sessions")).Rows(goqu.Record{
		"display_name": session.DisplayName,
		"display_id":   session.DisplayID,
		"context":      session.Context,
		"started":      session.Started,
	}).Returning(goqu.C("id")).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"display_name": session.DisplayName})
	}
	return q, nil
}

// StartPresentSession records a new PresentSession and returns its id. Open
// sessions for the same display are ended first as they were left open by
// a previous run.
func (m *Mall) StartPresentSession(ctx context.Context, session PresentSession) (int, error) {
	// Begin tx.
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return 0, errors.NewDBTxBeginError(err)
	}
	// End open ones.
	endQ, err := endPresentSessionsQuery(m.dialect, session.DisplayID, session.Started)
	if err != nil {
		m.rollbackTx(ctx, tx, "end open sessions query to sql failed")
		return 0, err
	}
	_, err = tx.Exec(ctx, endQ)
	if err != nil {
		m.rollbackTx(ctx, tx, "end open sessions failed")
		return 0, errors.NewExecQueryError(err, "end open sessions", endQ)
	}
	// Insert.
	q, err := startPresentSessionQuery(m.dialect, session)
	if err != nil {
		m.rollbackTx(ctx, tx, "start session query to sql failed")
		return 0, err
	}
	var id int
	err = tx.QueryRow(ctx, q).Scan(&id)
	if err != nil {
		m.rollbackTx(ctx, tx, "start session failed")
		return 0, errors.NewScanDBRowError(err, "insert session", q)
	}
	err = tx.Commit(ctx)
	if err != nil {
		return 0, errors.NewDBTxCommitError(err)
	}
	return id, nil
}

// endPresentSessionsQuery builds the update query for ending all open sessions
// of the display.
func endPresentSessionsQuery(dialect goqu.DialectWrapper, displayID vr.DisplayID, at time.Time) (string, error) {
	q, _, err := dialect.Update(goqu.T("present_sessions")).
		Set(goqu.Record{"ended": at}).
		Where(goqu.C("display_id").Eq(displayID),
			goqu.C("ended").IsNull()).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"display_id": displayID})
	}
	return q, nil
}

// EndPresentSessions ends all open sessions of the display and returns how many
// were ended.
func (m *Mall) EndPresentSessions(ctx context.Context, displayID vr.DisplayID, at time.Time) (int, error) {
	q, err := endPresentSessionsQuery(m.dialect, displayID, at)
	if err != nil {
		return 0, err
	}
	result, err := m.db.Exec(ctx, q)
	if err != nil {
		return 0, errors.NewExecQueryError(err, "end present sessions", q)
	}
	return int(result.RowsAffected()), nil
}

// PresentSessionsByDisplay retrieves the latest sessions of the display with
// the given name, newest first.
func (m *Mall) PresentSessionsByDisplay(ctx context.Context, displayName string, limit uint) ([]PresentSession, error) {
	q, _, err := m.dialect.From("present_sessions").
		Select(goqu.C("id"),
			goqu.C("display_name"),
			goqu.C("display_id"),
			goqu.C("context"),
			goqu.C("started"),
			goqu.C("ended")).
		Where(goqu.C("display_name").Eq(displayName)).
		Order(goqu.C("started").Desc()).
		Limit(limit).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, errors.Details{"display_name": displayName})
	}
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", q)
	}
	defer rows.Close()
	sessions := make([]PresentSession, 0)
	for rows.Next() {
		var session PresentSession
		err = rows.Scan(&session.ID,
			&session.DisplayName,
			&session.DisplayID,
			&session.Context,
			&session.Started,
			&session.Ended)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", q)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewScanDBRowError(err, "read rows", q)
	}
	return sessions, nil
}
