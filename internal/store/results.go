package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/proxyvet/proxyvet/internal/model"
)

// resultKey identifies a (proxy, check) pair.
type resultKey struct {
	ProxyID int64
	CheckID int64
}

// RecordResult appends a probe outcome and returns its id. Results referring
// to a proxy or check that was removed in the meantime are dropped silently:
// removal won the race and the outcome is moot.
func (s *Store) RecordResult(r model.CheckResult) (int64, error) {
	if r.DoneAtNs == 0 {
		r.DoneAtNs = time.Now().UnixNano()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO check_result (proxy_id, check_id, is_passed, is_banned, status, time_s, error, done_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProxyID, r.CheckID, r.IsPassed, r.IsBanned, statusToDB(r.Status), r.TimeSec, r.Error, r.DoneAtNs,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("record result proxy %d check %d: %w", r.ProxyID, r.CheckID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record result proxy %d check %d: %w", r.ProxyID, r.CheckID, err)
	}
	return id, nil
}

// LatestResult returns the most recent result for a (proxy, check) pair.
func (s *Store) LatestResult(proxyID, checkID int64) (model.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		r      model.CheckResult
		status sql.NullInt64
		errMsg sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT id, proxy_id, check_id, is_passed, is_banned, status, time_s, error, done_at_ns
		 FROM check_result
		 WHERE proxy_id = ? AND check_id = ?
		 ORDER BY done_at_ns DESC, id DESC LIMIT 1`,
		proxyID, checkID,
	).Scan(&r.ID, &r.ProxyID, &r.CheckID, &r.IsPassed, &r.IsBanned, &status, &r.TimeSec, &errMsg, &r.DoneAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckResult{}, fmt.Errorf("latest result proxy %d check %d: %w", proxyID, checkID, ErrNotFound)
	}
	if err != nil {
		return model.CheckResult{}, fmt.Errorf("latest result proxy %d check %d: %w", proxyID, checkID, err)
	}
	r.Status = statusFromDB(status)
	r.Error = errMsg.String
	return r, nil
}

// ResultsForPair returns all results for a (proxy, check) pair, newest first.
func (s *Store) ResultsForPair(proxyID, checkID int64) ([]model.CheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, proxy_id, check_id, is_passed, is_banned, status, time_s, error, done_at_ns
		 FROM check_result
		 WHERE proxy_id = ? AND check_id = ?
		 ORDER BY done_at_ns DESC, id DESC`,
		proxyID, checkID,
	)
	if err != nil {
		return nil, fmt.Errorf("results proxy %d check %d: %w", proxyID, checkID, err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// latestResultsLocked returns the newest result for every (proxy, check)
// pair that has any.
func (s *Store) latestResultsLocked() (map[resultKey]model.CheckResult, error) {
	rows, err := s.db.Query(
		`SELECT id, proxy_id, check_id, is_passed, is_banned, status, time_s, error, done_at_ns
		 FROM check_result r
		 WHERE id = (
		     SELECT id FROM check_result
		     WHERE proxy_id = r.proxy_id AND check_id = r.check_id
		     ORDER BY done_at_ns DESC, id DESC LIMIT 1
		 )`,
	)
	if err != nil {
		return nil, fmt.Errorf("latest results: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[resultKey]model.CheckResult, len(results))
	for _, r := range results {
		out[resultKey{r.ProxyID, r.CheckID}] = r
	}
	return out, nil
}

func scanResults(rows *sql.Rows) ([]model.CheckResult, error) {
	var out []model.CheckResult
	for rows.Next() {
		var (
			r      model.CheckResult
			status sql.NullInt64
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProxyID, &r.CheckID, &r.IsPassed, &r.IsBanned, &status, &r.TimeSec, &errMsg, &r.DoneAtNs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = statusFromDB(status)
		r.Error = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return out, nil
}

func statusToDB(status *int) any {
	if status == nil {
		return nil
	}
	return *status
}

func statusFromDB(status sql.NullInt64) *int {
	if !status.Valid {
		return nil
	}
	v := int(status.Int64)
	return &v
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
