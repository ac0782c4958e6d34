package store

import "fmt"

// PruneResults deletes all but the newest keepPerPair results of every
// (proxy, check) pair and returns the number of rows removed. The history
// table is append-only otherwise, so without pruning it grows without bound.
func (s *Store) PruneResults(keepPerPair int) (int64, error) {
	if keepPerPair < 1 {
		return 0, fmt.Errorf("prune results: keep %d must be at least 1", keepPerPair)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM check_result WHERE id NOT IN (
		     SELECT id FROM check_result r2
		     WHERE r2.proxy_id = check_result.proxy_id
		       AND r2.check_id = check_result.check_id
		     ORDER BY r2.done_at_ns DESC, r2.id DESC
		     LIMIT ?
		 )`, keepPerPair,
	)
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return n, nil
}
