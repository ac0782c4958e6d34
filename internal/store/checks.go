package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/proxyvet/proxyvet/internal/checkdef"
	"github.com/proxyvet/proxyvet/internal/model"
)

// AddCheck validates a definition document, canonicalizes it, and inserts
// the check. Name may be empty. A duplicate name or duplicate canonical
// definition yields ErrConflict.
func (s *Store) AddCheck(name, definition string) (model.CheckDefinition, error) {
	opts, err := checkdef.Parse(definition)
	if err != nil {
		return model.CheckDefinition{}, err
	}
	canonical, err := opts.Canonical()
	if err != nil {
		return model.CheckDefinition{}, err
	}

	check := model.CheckDefinition{
		Name:        name,
		Definition:  canonical,
		Netloc:      opts.Netloc(),
		CreatedAtNs: time.Now().UnixNano(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO check_definition (name, definition, netloc, created_at_ns)
		 VALUES (?, ?, ?, ?)`,
		nameToDB(check.Name), check.Definition, check.Netloc, check.CreatedAtNs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.CheckDefinition{}, fmt.Errorf("add check: %w", ErrConflict)
		}
		return model.CheckDefinition{}, fmt.Errorf("add check: %w", err)
	}
	check.ID, err = res.LastInsertId()
	if err != nil {
		return model.CheckDefinition{}, fmt.Errorf("add check: %w", err)
	}
	return check, nil
}

// GetCheckByID loads a check definition by id.
func (s *Store) GetCheckByID(id int64) (model.CheckDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCheckLocked(`WHERE id = ?`, id)
}

// GetCheckByName loads a check definition by its unique name.
func (s *Store) GetCheckByName(name string) (model.CheckDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCheckLocked(`WHERE name = ?`, name)
}

func (s *Store) getCheckLocked(where string, arg any) (model.CheckDefinition, error) {
	var (
		c    model.CheckDefinition
		name sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT id, name, definition, netloc, created_at_ns FROM check_definition `+where, arg,
	).Scan(&c.ID, &name, &c.Definition, &c.Netloc, &c.CreatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckDefinition{}, fmt.Errorf("get check %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return model.CheckDefinition{}, fmt.Errorf("get check %v: %w", arg, err)
	}
	c.Name = name.String
	return c, nil
}

// AllChecks returns every stored check definition ordered by id.
func (s *Store) AllChecks() ([]model.CheckDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, name, definition, netloc, created_at_ns FROM check_definition ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var out []model.CheckDefinition
	for rows.Next() {
		var (
			c    model.CheckDefinition
			name sql.NullString
		)
		if err := rows.Scan(&c.ID, &name, &c.Definition, &c.Netloc, &c.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("list checks: scan: %w", err)
		}
		c.Name = name.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	return out, nil
}

// RemoveCheckByID deletes a check by id. Associations and results cascade.
func (s *Store) RemoveCheckByID(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM check_definition WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove check %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove check %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("remove check %d: %w", id, ErrNotFound)
	}
	s.defs.Delete(id)
	return nil
}

// RemoveCheckByName deletes a check by its unique name.
func (s *Store) RemoveCheckByName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCheckLocked(`WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM check_definition WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("remove check %q: %w", name, err)
	}
	s.defs.Delete(c.ID)
	return nil
}

// Associate links a proxy to a check. Re-associating an existing pair is a
// no-op. Unknown proxy or check ids yield ErrNotFound.
func (s *Store) Associate(proxyID, checkID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireProxyLocked(proxyID); err != nil {
		return err
	}
	if err := s.requireCheckLocked(checkID); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO proxy_check_definition (proxy_id, check_id) VALUES (?, ?)`,
		proxyID, checkID,
	)
	if err != nil {
		return fmt.Errorf("associate proxy %d check %d: %w", proxyID, checkID, err)
	}
	return nil
}

// Disassociate removes a proxy-check link. Returns ErrNotFound when the
// pair was not associated.
func (s *Store) Disassociate(proxyID, checkID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM proxy_check_definition WHERE proxy_id = ? AND check_id = ?`,
		proxyID, checkID,
	)
	if err != nil {
		return fmt.Errorf("disassociate proxy %d check %d: %w", proxyID, checkID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("disassociate proxy %d check %d: %w", proxyID, checkID, err)
	}
	if n == 0 {
		return fmt.Errorf("disassociate proxy %d check %d: %w", proxyID, checkID, ErrNotFound)
	}
	return nil
}

// ChecksForProxy returns the check definitions associated with a proxy,
// ordered by check id.
func (s *Store) ChecksForProxy(proxyID int64) ([]model.CheckDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT c.id, c.name, c.definition, c.netloc, c.created_at_ns
		 FROM check_definition c
		 JOIN proxy_check_definition pc ON pc.check_id = c.id
		 WHERE pc.proxy_id = ?
		 ORDER BY c.id`, proxyID,
	)
	if err != nil {
		return nil, fmt.Errorf("checks for proxy %d: %w", proxyID, err)
	}
	defer rows.Close()

	var out []model.CheckDefinition
	for rows.Next() {
		var (
			c    model.CheckDefinition
			name sql.NullString
		)
		if err := rows.Scan(&c.ID, &name, &c.Definition, &c.Netloc, &c.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("checks for proxy %d: scan: %w", proxyID, err)
		}
		c.Name = name.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checks for proxy %d: %w", proxyID, err)
	}
	return out, nil
}

func (s *Store) requireProxyLocked(id int64) error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM proxy WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("check proxy %d exists: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("proxy %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) requireCheckLocked(id int64) error {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM check_definition WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("check definition %d exists: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("check %d: %w", id, ErrNotFound)
	}
	return nil
}

// nameToDB maps the empty name to NULL so the uniqueness constraint only
// binds named checks.
func nameToDB(name string) any {
	if name == "" {
		return nil
	}
	return name
}
