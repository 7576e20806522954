package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"

	"warehouse-relay/internal/models"
)

// submitAsync fires SELECT * FROM <view> without waiting for completion and
// returns the engine-assigned query ID. The statement keeps running
// server-side as long as the session stays open, so the caller must not close
// the handle on success.
func (h *Handle) submitAsync(ctx context.Context, viewName string) (string, error) {
	if !validIdentifier(viewName) {
		return "", fmt.Errorf("%w: invalid view name %q", ErrSubmission, viewName)
	}

	idCh := make(chan string, 1)
	qctx := sf.WithAsyncMode(sf.WithQueryIDChan(ctx, idCh))

	rows, err := h.db.QueryContext(qctx, "SELECT * FROM "+viewName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	h.rows = rows

	select {
	case qid := <-idCh:
		if qid == "" {
			return "", fmt.Errorf("%w: engine returned empty query id", ErrSubmission)
		}
		return qid, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrSubmission, ctx.Err())
	}
}

// PollStatus maps the engine's native status vocabulary onto the relay's
// three states. The handle is opened and released per call; polling holds
// nothing across invocations.
func (c *Connector) PollStatus(ctx context.Context, jobID string) (models.ExecutionState, error) {
	h, err := c.Open(ctx)
	if err != nil {
		return "", err
	}
	defer h.Close()

	var status string
	err = h.db.QueryRowContext(ctx,
		`select execution_status from table(information_schema.query_history()) where query_id = ?`,
		jobID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: query history: %v", ErrUnavailable, err)
	}
	return mapStatus(status), nil
}

// mapStatus collapses the engine vocabulary: SUCCESS is terminal success,
// FAILED_* and aborts are terminal failure, everything else is still running.
func mapStatus(native string) models.ExecutionState {
	s := strings.ToUpper(native)
	switch {
	case s == "SUCCESS":
		return models.StateSucceeded
	case strings.HasPrefix(s, "FAILED"), strings.HasPrefix(s, "ABORT"):
		return models.StateFailed
	default:
		return models.StateRunning
	}
}

// FetchErrorMessage projects error_message from query history for a failed job.
func (c *Connector) FetchErrorMessage(ctx context.Context, jobID string) (string, error) {
	h, err := c.Open(ctx)
	if err != nil {
		return "", err
	}
	defer h.Close()

	var message sql.NullString
	err = h.db.QueryRowContext(ctx,
		`select error_message from table(information_schema.query_history()) where query_id = ?`,
		jobID,
	).Scan(&message)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: query history: %v", ErrUnavailable, err)
	}
	if !message.Valid {
		return "", nil
	}
	return message.String, nil
}

// FetchResults scans a bounded page of the already-computed result set. It is
// a reference to the materialized output, not a re-run of the query.
func (c *Connector) FetchResults(ctx context.Context, jobID string, offset, limit int) (models.ResultPage, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	h, err := c.Open(ctx)
	if err != nil {
		return models.ResultPage{}, err
	}
	defer h.Close()

	rows, err := h.db.QueryContext(ctx,
		`select * from table(result_scan(?)) limit ? offset ?`,
		jobID, limit, offset,
	)
	if err != nil {
		var se *sf.SnowflakeError
		if errors.As(err, &se) {
			return models.ResultPage{}, fmt.Errorf("%w: %v", ErrResultExpired, err)
		}
		return models.ResultPage{}, fmt.Errorf("%w: result scan: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return models.ResultPage{}, fmt.Errorf("%w: read results: %v", ErrUnavailable, err)
	}
	return models.ResultPage{Records: records, Offset: offset, Limit: limit}, nil
}

// collectRecords renders every column of every row to its string form.
func collectRecords(rows *sql.Rows) ([]models.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := make([]models.Record, 0)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(models.Record, len(columns))
		for i, col := range columns {
			rec[col] = renderValue(values[i])
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// renderValue turns a driver value into transport text. NULL renders empty.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
