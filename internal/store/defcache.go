package store

import (
	"github.com/proxyvet/proxyvet/internal/checkdef"
)

// CheckOptions returns the decoded definition for a check id. Decoded
// definitions are cached: they are immutable for the lifetime of the check,
// and workers resolve them on every probe.
func (s *Store) CheckOptions(id int64) (checkdef.Options, error) {
	if opts, ok := s.defs.Get(id); ok {
		return opts, nil
	}

	check, err := s.GetCheckByID(id)
	if err != nil {
		return checkdef.Options{}, err
	}
	opts, err := checkdef.Parse(check.Definition)
	if err != nil {
		return checkdef.Options{}, err
	}
	s.defs.Set(id, opts)
	return opts, nil
}
