package api

import (
	"net/http"
	"net/url"

	"github.com/cookieguard/cookieguard/internal/store"
	"github.com/cookieguard/cookieguard/internal/whitelist"
	"github.com/go-chi/chi/v5"
)

func (a *App) manager(w http.ResponseWriter, r *http.Request) (*whitelist.Manager, bool) {
	m, err := a.lists.Get(chi.URLParam(r, "list"))
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return m, true
}

func (a *App) listLists(w http.ResponseWriter, r *http.Request) {
	names := a.lists.Names()
	out := make([]store.ListInfo, 0, len(names))
	for _, name := range names {
		m, err := a.lists.Get(name)
		if err != nil {
			continue
		}
		out = append(out, store.ListInfo{Name: name, Count: m.Len()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) listDomains(w http.ResponseWriter, r *http.Request) {
	m, ok := a.manager(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": m.List(), "domains": m.Domains()})
}

func (a *App) addDomain(w http.ResponseWriter, r *http.Request) {
	m, ok := a.manager(w, r)
	if !ok {
		return
	}
	var req struct {
		Domain string `json:"domain"`
	}
	if !decodeJSON(w, r, &req, "") {
		return
	}
	if err := m.AddDomain(r.Context(), req.Domain); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"list": m.List(), "domain": req.Domain, "count": m.Len()})
}

func (a *App) removeDomain(w http.ResponseWriter, r *http.Request) {
	m, ok := a.manager(w, r)
	if !ok {
		return
	}
	domain := chi.URLParam(r, "domain")
	// chi routes on RawPath when it is set, leaving the param escaped.
	if r.URL.RawPath != "" {
		d, err := url.PathUnescape(domain)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid domain escape"})
			return
		}
		domain = d
	}
	if err := m.RemoveDomain(r.Context(), domain); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": m.List(), "domain": domain, "count": m.Len()})
}

func (a *App) clearDomains(w http.ResponseWriter, r *http.Request) {
	m, ok := a.manager(w, r)
	if !ok {
		return
	}
	if err := m.ClearDomains(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) reloadAll(w http.ResponseWriter, r *http.Request) {
	if err := a.lists.ReloadAll(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.listLists(w, r)
}

func (a *App) reloadList(w http.ResponseWriter, r *http.Request) {
	m, ok := a.manager(w, r)
	if !ok {
		return
	}
	if err := m.Reload(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": m.List(), "count": m.Len()})
}

func (a *App) checkURL(w http.ResponseWriter, r *http.Request) {
	m, ok := a.manager(w, r)
	if !ok {
		return
	}
	u := r.URL.Query().Get("url")
	matched, hit := m.Match(u)
	writeJSON(w, http.StatusOK, map[string]any{
		"list":        m.List(),
		"url":         u,
		"whitelisted": hit,
		"matched":     matched,
	})
}
