package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/proxyvet/proxyvet/internal/model"
)

// AddProxy inserts a proxy and returns its id. A duplicate
// (host, port, protocol) triple yields ErrConflict.
func (s *Store) AddProxy(p model.Proxy) (int64, error) {
	if !p.Protocol.Valid() {
		return 0, fmt.Errorf("add proxy: invalid protocol %q", p.Protocol)
	}
	if p.CreatedAtNs == 0 {
		p.CreatedAtNs = time.Now().UnixNano()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO proxy (host, port, protocol, recheck_every_s, created_at_ns)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Host, p.Port, string(p.Protocol), recheckToDB(p.RecheckEverySec), p.CreatedAtNs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("add proxy %s: %w", p.URL(), ErrConflict)
		}
		return 0, fmt.Errorf("add proxy %s: %w", p.URL(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add proxy %s: %w", p.URL(), err)
	}
	return id, nil
}

// RemoveProxy deletes a proxy by endpoint. Associations and results go with
// it via cascade. Returns ErrNotFound when no such proxy exists.
func (s *Store) RemoveProxy(host string, port int, protocol model.Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM proxy WHERE host = ? AND port = ? AND protocol = ?`,
		host, port, string(protocol),
	)
	if err != nil {
		return fmt.Errorf("remove proxy %s:%d: %w", host, port, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove proxy %s:%d: %w", host, port, err)
	}
	if n == 0 {
		return fmt.Errorf("remove proxy %s://%s:%d: %w", protocol, host, port, ErrNotFound)
	}
	return nil
}

// RemoveProxyByID deletes a proxy by id. Associations and results cascade.
func (s *Store) RemoveProxyByID(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM proxy WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove proxy %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove proxy %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("remove proxy %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetProxyID resolves an endpoint triple to its id.
func (s *Store) GetProxyID(host string, port int, protocol model.Protocol) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM proxy WHERE host = ? AND port = ? AND protocol = ?`,
		host, port, string(protocol),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("get proxy %s://%s:%d: %w", protocol, host, port, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get proxy %s:%d: %w", host, port, err)
	}
	return id, nil
}

// GetProxy loads a proxy by id.
func (s *Store) GetProxy(id int64) (model.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		p       model.Proxy
		recheck sql.NullInt64
	)
	err := s.db.QueryRow(
		`SELECT id, host, port, protocol, recheck_every_s, created_at_ns
		 FROM proxy WHERE id = ?`, id,
	).Scan(&p.ID, &p.Host, &p.Port, (*string)(&p.Protocol), &recheck, &p.CreatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Proxy{}, fmt.Errorf("get proxy %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Proxy{}, fmt.Errorf("get proxy %d: %w", id, err)
	}
	p.RecheckEverySec = recheck.Int64
	return p, nil
}

// AllProxies returns every stored proxy ordered by id.
func (s *Store) AllProxies() ([]model.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allProxiesLocked()
}

func (s *Store) allProxiesLocked() ([]model.Proxy, error) {
	rows, err := s.db.Query(
		`SELECT id, host, port, protocol, recheck_every_s, created_at_ns
		 FROM proxy ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var out []model.Proxy
	for rows.Next() {
		var (
			p       model.Proxy
			recheck sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Host, &p.Port, (*string)(&p.Protocol), &recheck, &p.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("list proxies: scan: %w", err)
		}
		p.RecheckEverySec = recheck.Int64
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return out, nil
}

// ListProxies returns the full proxy projection: liveness, associated check
// ids, banned netlocs, and mean probe time. With aliveOnly set, only alive
// proxies are returned.
//
// A proxy is alive when it has at least one associated check and the latest
// result of every associated check passed. A check with no result yet counts
// as not passed.
func (s *Store) ListProxies(aliveOnly bool) ([]model.ProxyRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proxies, err := s.allProxiesLocked()
	if err != nil {
		return nil, err
	}

	assoc, err := s.associationsLocked()
	if err != nil {
		return nil, err
	}

	latest, err := s.latestResultsLocked()
	if err != nil {
		return nil, err
	}

	netlocs, err := s.checkNetlocsLocked()
	if err != nil {
		return nil, err
	}

	means, err := s.meanTimesLocked()
	if err != nil {
		return nil, err
	}

	var out []model.ProxyRow
	for _, p := range proxies {
		row := model.ProxyRow{
			Proxy:        p,
			CheckIDs:     []int64{},
			BannedNetloc: []string{},
			MeanTimeSec:  -1,
		}
		if m, ok := means[p.ID]; ok {
			row.MeanTimeSec = m
		}

		checkIDs := assoc[p.ID]
		row.CheckIDs = append(row.CheckIDs, checkIDs...)

		alive := len(checkIDs) > 0
		bannedSet := map[string]bool{}
		for _, checkID := range checkIDs {
			r, ok := latest[resultKey{p.ID, checkID}]
			if !ok || !r.IsPassed {
				alive = false
			}
			if ok && r.IsBanned {
				if nl := netlocs[checkID]; nl != "" && !bannedSet[nl] {
					bannedSet[nl] = true
					row.BannedNetloc = append(row.BannedNetloc, nl)
				}
			}
		}
		row.IsAlive = alive

		if aliveOnly && !alive {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// associationsLocked returns check ids per proxy id, ordered by check id.
func (s *Store) associationsLocked() (map[int64][]int64, error) {
	rows, err := s.db.Query(
		`SELECT proxy_id, check_id FROM proxy_check_definition ORDER BY proxy_id, check_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	defer rows.Close()

	out := map[int64][]int64{}
	for rows.Next() {
		var proxyID, checkID int64
		if err := rows.Scan(&proxyID, &checkID); err != nil {
			return nil, fmt.Errorf("list associations: scan: %w", err)
		}
		out[proxyID] = append(out[proxyID], checkID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	return out, nil
}

// checkNetlocsLocked returns the netloc per check id.
func (s *Store) checkNetlocsLocked() (map[int64]string, error) {
	rows, err := s.db.Query(`SELECT id, netloc FROM check_definition`)
	if err != nil {
		return nil, fmt.Errorf("list check netlocs: %w", err)
	}
	defer rows.Close()

	out := map[int64]string{}
	for rows.Next() {
		var (
			id     int64
			netloc string
		)
		if err := rows.Scan(&id, &netloc); err != nil {
			return nil, fmt.Errorf("list check netlocs: scan: %w", err)
		}
		out[id] = netloc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list check netlocs: %w", err)
	}
	return out, nil
}

// meanTimesLocked returns the average probe time per proxy id across all
// recorded results.
func (s *Store) meanTimesLocked() (map[int64]float64, error) {
	rows, err := s.db.Query(
		`SELECT proxy_id, AVG(time_s) FROM check_result GROUP BY proxy_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("mean times: %w", err)
	}
	defer rows.Close()

	out := map[int64]float64{}
	for rows.Next() {
		var (
			proxyID int64
			mean    float64
		)
		if err := rows.Scan(&proxyID, &mean); err != nil {
			return nil, fmt.Errorf("mean times: scan: %w", err)
		}
		out[proxyID] = mean
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mean times: %w", err)
	}
	return out, nil
}

// recheckToDB maps the zero one-shot marker to NULL.
func recheckToDB(sec int64) any {
	if sec <= 0 {
		return nil
	}
	return sec
}
