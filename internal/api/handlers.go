package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/proxyvet/proxyvet/internal/ingest"
	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/store"
)

// listItem is the /list projection of one proxy.
type listItem struct {
	ID           int64    `json:"id"`
	Proxy        string   `json:"proxy"`
	RecheckEvery *int64   `json:"recheck_every"`
	Checks       []int64  `json:"checks"`
	BannedAt     []string `json:"banned_at"`
	IsAlive      bool     `json:"is_alive"`
	MeanTime     float64  `json:"mean_time"`
}

// HandleList serves /list?is_alive=<bool>.
func HandleList(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aliveOnly := false
		if v := r.URL.Query().Get("is_alive"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				WriteFailure(w, "attribute 'is_alive' must be a boolean")
				return
			}
			aliveOnly = b
		}

		rows, err := s.ListProxies(aliveOnly)
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}

		items := make([]listItem, 0, len(rows))
		for _, row := range rows {
			item := listItem{
				ID:       row.ID,
				Proxy:    row.URL(),
				Checks:   row.CheckIDs,
				BannedAt: row.BannedNetloc,
				IsAlive:  row.IsAlive,
				MeanTime: row.MeanTimeSec,
			}
			if row.RecheckEverySec > 0 {
				recheck := row.RecheckEverySec
				item.RecheckEvery = &recheck
			}
			items = append(items, item)
		}
		WriteResult(w, items)
	})
}

// HandleAdd serves /add?proxy=<string>&recheck_every=<seconds>.
func HandleAdd(in *ingest.Ingestor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		candidate := r.URL.Query().Get("proxy")
		if candidate == "" {
			WriteFailure(w, "attribute 'proxy' is required")
			return
		}

		var recheckSec int64
		if v := r.URL.Query().Get("recheck_every"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				WriteFailure(w, "attribute 'recheck_every' must be a positive integer of seconds")
				return
			}
			recheckSec = n
		}

		added, err := in.Add(candidate, recheckSec)
		if errors.Is(err, store.ErrConflict) {
			WriteFailure(w, "proxy already exists")
			return
		}
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}

		if len(added) == 1 {
			WriteResult(w, map[string]int64{"id": added[0].ID})
			return
		}
		ids := make([]int64, 0, len(added))
		for _, p := range added {
			ids = append(ids, p.ID)
		}
		WriteResult(w, map[string][]int64{"ids": ids})
	})
}

// HandleRemove serves /remove?id=<int>.
func HandleRemove(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIntParam(w, r, "id")
		if !ok {
			return
		}
		err := s.RemoveProxyByID(id)
		if errors.Is(err, store.ErrNotFound) {
			WriteResult(w, "not_exists")
			return
		}
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		WriteResult(w, "ok")
	})
}

// HandleAddCheck serves /add_check?definition=<json>&name=<string>.
func HandleAddCheck(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		definition := r.URL.Query().Get("definition")
		if definition == "" {
			WriteFailure(w, "attribute 'definition' is required")
			return
		}

		c, err := s.AddCheck(r.URL.Query().Get("name"), definition)
		if errors.Is(err, store.ErrConflict) {
			WriteFailure(w, "check already exists")
			return
		}
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		WriteResult(w, map[string]int64{"id": c.ID})
	})
}

// HandleListCheck serves /list_check?id=<int>|name=<string>. Without a
// selector it returns every stored check.
func HandleListCheck(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, found, err := lookupCheck(s, r)
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		if found {
			WriteResult(w, checkPayload(c))
			return
		}

		checks, err := s.AllChecks()
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		items := make([]map[string]any, 0, len(checks))
		for _, c := range checks {
			items = append(items, checkPayload(c))
		}
		WriteResult(w, items)
	})
}

// HandleRemoveCheck serves /remove_check?id=<int>|name=<string>.
func HandleRemoveCheck(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		var err error
		switch {
		case query.Get("id") != "":
			var id int64
			id, err = strconv.ParseInt(query.Get("id"), 10, 64)
			if err != nil {
				WriteFailure(w, "attribute 'id' must be an integer")
				return
			}
			err = s.RemoveCheckByID(id)
		case query.Get("name") != "":
			err = s.RemoveCheckByName(query.Get("name"))
		default:
			WriteFailure(w, "attribute 'id' or 'name' is required")
			return
		}

		if errors.Is(err, store.ErrNotFound) {
			WriteResult(w, "not_exists")
			return
		}
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		WriteResult(w, "ok")
	})
}

// HandleAddProxyCheck serves /add_proxy_check?proxy_id=<int>&check_id=<int>|check_name=<string>.
func HandleAddProxyCheck(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyID, checkID, ok := proxyCheckParams(s, w, r)
		if !ok {
			return
		}
		err := s.Associate(proxyID, checkID)
		if errors.Is(err, store.ErrNotFound) {
			WriteFailure(w, err.Error())
			return
		}
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		WriteResult(w, "ok")
	})
}

// HandleRemoveProxyCheck serves /remove_proxy_check?proxy_id=<int>&check_id=<int>|check_name=<string>.
func HandleRemoveProxyCheck(s *store.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyID, checkID, ok := proxyCheckParams(s, w, r)
		if !ok {
			return
		}
		err := s.Disassociate(proxyID, checkID)
		if errors.Is(err, store.ErrNotFound) {
			WriteResult(w, "not_exists")
			return
		}
		if err != nil {
			WriteFailure(w, err.Error())
			return
		}
		WriteResult(w, "ok")
	})
}

// HandleHealthz serves /healthz, unauthenticated.
func HandleHealthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteResult(w, "ok")
	})
}

func checkPayload(c model.CheckDefinition) map[string]any {
	payload := map[string]any{
		"id":         c.ID,
		"definition": c.Definition,
	}
	if c.Name != "" {
		payload["name"] = c.Name
	}
	return payload
}

// lookupCheck resolves the id or name query selector. found is false when
// neither selector is present.
func lookupCheck(s *store.Store, r *http.Request) (model.CheckDefinition, bool, error) {
	query := r.URL.Query()
	if v := query.Get("id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.CheckDefinition{}, false, errors.New("attribute 'id' must be an integer")
		}
		c, err := s.GetCheckByID(id)
		return c, true, err
	}
	if name := query.Get("name"); name != "" {
		c, err := s.GetCheckByName(name)
		return c, true, err
	}
	return model.CheckDefinition{}, false, nil
}

// proxyCheckParams parses proxy_id plus either check_id or check_name. On
// failure it writes the error envelope and returns ok=false.
func proxyCheckParams(s *store.Store, w http.ResponseWriter, r *http.Request) (proxyID, checkID int64, ok bool) {
	proxyID, ok = requireIntParam(w, r, "proxy_id")
	if !ok {
		return 0, 0, false
	}

	query := r.URL.Query()
	switch {
	case query.Get("check_id") != "":
		id, err := strconv.ParseInt(query.Get("check_id"), 10, 64)
		if err != nil {
			WriteFailure(w, "attribute 'check_id' must be an integer")
			return 0, 0, false
		}
		checkID = id
	case query.Get("check_name") != "":
		c, err := s.GetCheckByName(query.Get("check_name"))
		if err != nil {
			WriteFailure(w, err.Error())
			return 0, 0, false
		}
		checkID = c.ID
	default:
		WriteFailure(w, "attribute 'check_id' or 'check_name' is required")
		return 0, 0, false
	}
	return proxyID, checkID, true
}

func requireIntParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		WriteFailure(w, "attribute '"+name+"' is required")
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		WriteFailure(w, "attribute '"+name+"' must be an integer")
		return 0, false
	}
	return n, true
}
