package api

import (
	"net/http"

	"github.com/cookieguard/cookieguard/internal/denylist"
)

func (a *App) denylistLookup(w http.ResponseWriter, r *http.Request) {
	if a.denylist == nil || a.loader == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "denylist not configured"})
		return
	}
	set, err := a.denylist.Wait(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "denylist still loading"})
		return
	}
	raw := r.URL.Query().Get("host")
	if raw == "" {
		out := map[string]any{
			"source": a.loader.Source().Name(),
			"size":   set.Size(),
			"loads":  a.loader.Loads(),
		}
		if a.watcher != nil {
			out["watcher"] = a.watcher.Stats()
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	host, err := denylist.NormalizeHost(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid host"})
		return
	}
	matched, denied := set.Match(host)
	writeJSON(w, http.StatusOK, map[string]any{
		"host":    host,
		"denied":  denied,
		"matched": matched,
		"size":    set.Size(),
	})
}

func (a *App) decide(w http.ResponseWriter, r *http.Request) {
	if a.policy == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "cookie policy not configured"})
		return
	}
	q := r.URL.Query()
	u := q.Get("url")
	if u == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}
	d, err := a.policy.DecideThirdParty(r.Context(), u, q.Get("first_party"))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "denylist still loading"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}
