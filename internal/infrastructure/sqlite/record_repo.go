package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

const recordColumns = `id, stack, action, strategy, state, outputs, error, started_at, finished_at`

// RecordRepo implements [domain.DeploymentRecordRepository] backed by SQLite.
type RecordRepo struct {
	DB *sql.DB
}

func (r *RecordRepo) Create(ctx context.Context, rec domain.DeploymentRecord) error {
	outputs, err := marshalOutputs(rec.Outputs)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO deployment_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), rec.Stack, string(rec.Action), string(rec.Strategy), string(rec.State),
		outputs, rec.Error, formatTime(rec.StartedAt), nullTime(rec.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(domain.ErrAlreadyExists, "record %q", rec.ID)
		}
		return errors.Wrap(err, "insert deployment record")
	}
	return nil
}

func (r *RecordRepo) Get(ctx context.Context, id domain.RecordID) (domain.DeploymentRecord, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM deployment_records WHERE id = ?`,
		string(id),
	)
	return scanRecord(row)
}

func (r *RecordRepo) Update(ctx context.Context, rec domain.DeploymentRecord) error {
	outputs, err := marshalOutputs(rec.Outputs)
	if err != nil {
		return err
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE deployment_records
		 SET strategy = ?, state = ?, outputs = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(rec.Strategy), string(rec.State), outputs, rec.Error, nullTime(rec.FinishedAt),
		string(rec.ID),
	)
	if err != nil {
		return errors.Wrap(err, "update deployment record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(domain.ErrNotFound, "record %q", rec.ID)
	}
	return nil
}

func (r *RecordRepo) List(ctx context.Context) ([]domain.DeploymentRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM deployment_records ORDER BY started_at DESC, id DESC`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list deployment records")
	}
	return collectRecords(rows)
}

func (r *RecordRepo) ListByStack(ctx context.Context, stack string) ([]domain.DeploymentRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM deployment_records WHERE stack = ?
		 ORDER BY started_at DESC, id DESC`,
		stack,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list deployment records by stack")
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]domain.DeploymentRecord, error) {
	defer rows.Close()

	var records []domain.DeploymentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(s scanner) (domain.DeploymentRecord, error) {
	var rec domain.DeploymentRecord
	var id, action, strategy, state, outputs, startedAt string
	var finishedAt sql.NullString
	if err := s.Scan(&id, &rec.Stack, &action, &strategy, &state, &outputs, &rec.Error, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, errors.WithStack(domain.ErrNotFound)
		}
		return rec, errors.Wrap(err, "scan deployment record")
	}
	rec.ID = domain.RecordID(id)
	rec.Action = domain.Action(action)
	rec.Strategy = domain.ComputeStrategy(strategy)
	rec.State = domain.RecordState(state)

	if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
		return rec, errors.Wrap(err, "unmarshal outputs")
	}
	if len(rec.Outputs) == 0 {
		rec.Outputs = nil
	}

	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return rec, errors.Wrap(err, "parse started_at")
	}
	rec.StartedAt = t
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return rec, errors.Wrap(err, "parse finished_at")
		}
		rec.FinishedAt = &t
	}
	return rec, nil
}

func marshalOutputs(outputs map[string]string) (string, error) {
	if outputs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(outputs)
	if err != nil {
		return "", errors.Wrap(err, "marshal outputs")
	}
	return string(b), nil
}
