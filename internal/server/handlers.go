package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/analysis"
	"github.com/matzehuels/cratestatus/pkg/buildinfo"
	apperr "github.com/matzehuels/cratestatus/pkg/errors"
	"github.com/matzehuels/cratestatus/pkg/index"
	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/status"
)

type view int

const (
	viewStatus view = iota
	viewBadge
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type healthResponse struct {
	Ready      bool            `json:"ready"`
	Version    string          `json:"version"`
	Index      index.Status    `json:"index"`
	Advisories advisory.Status `json:"advisories"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Version:    buildinfo.Version,
		Index:      s.cfg.Index.Status(),
		Advisories: s.cfg.Advisories.Status(),
	}
	resp.Ready = resp.Index.Ready && resp.Advisories.Ready
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleRepo(v view) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, err := project.ParseSite(chi.URLParam(r, "site"))
		if err != nil {
			s.respond(w, r, v, nil, err)
			return
		}
		id, err := project.Repo(site, chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
		s.analyze(w, r, v, id, err)
	}
}

func (s *Server) handleGitea(v view) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := project.Gitea(chi.URLParam(r, "host"), chi.URLParam(r, "owner"), chi.URLParam(r, "name"))
		s.analyze(w, r, v, id, err)
	}
}

func (s *Server) handleCrate(v view) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := project.Crate(chi.URLParam(r, "crate"), chi.URLParam(r, "version"))
		s.analyze(w, r, v, id, err)
	}
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, v view, id project.Identity, err error) {
	if err != nil {
		s.respond(w, r, v, nil, err)
		return
	}
	policy, err := s.policy(r)
	if err != nil {
		s.respond(w, r, v, nil, err)
		return
	}

	var res *analysis.Result
	if archived(r) && v == viewStatus {
		res, err = s.latestArchived(r, id)
	} else {
		res, err = s.cfg.Engine.AnalyzeProject(r.Context(), id, policy)
	}
	s.respond(w, r, v, res, err)
}

func (s *Server) latestArchived(r *http.Request, id project.Identity) (*analysis.Result, error) {
	if s.cfg.Archive == nil {
		return nil, apperr.New(apperr.ErrCodeNotFound, "result archive is not enabled")
	}
	return s.cfg.Archive.Latest(r.Context(), id)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v view, res *analysis.Result, err error) {
	if v == viewBadge {
		w.Header().Set("Cache-Control", "no-cache, max-age=0")
		if err != nil {
			if info := classify(err); info.status >= http.StatusInternalServerError {
				s.logger.Error("badge analysis failed", "path", r.URL.Path, "code", info.code, "err", err)
			}
			writeJSON(w, http.StatusOK, errorBadge(err))
			return
		}
		writeJSON(w, http.StatusOK, newBadge(res.Summary, res.Stale))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// policy reads ?dev and ?optional over the configured default.
func (s *Server) policy(r *http.Request) (status.Policy, error) {
	p := s.cfg.Policy
	q := r.URL.Query()
	for name, dst := range map[string]*bool{"dev": &p.IncludeDev, "optional": &p.IncludeOptional} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return p, apperr.New(apperr.ErrCodeInvalidInput, "query parameter %s: %q is not a boolean", name, raw)
		}
		*dst = b
	}
	return p, nil
}

func archived(r *http.Request) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
	return b
}

func (s *Server) handlePopularCrates(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Crates == nil {
		s.writeError(w, r, apperr.New(apperr.ErrCodeNotFound, "popular crates are not configured"))
		return
	}
	v, err := s.memo("crates", func() (any, error) { return s.cfg.Crates.PopularCrates(r.Context(), false) })
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.ErrCodeFetch, err, "popular crates"))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePopularRepos(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Repos == nil {
		s.writeError(w, r, apperr.New(apperr.ErrCodeNotFound, "popular repositories are not configured"))
		return
	}
	v, err := s.memo("repos", func() (any, error) {
		ids, err := s.cfg.Repos.PopularRepos(r.Context())
		if err != nil {
			return nil, err
		}
		out := make([]popularRepo, len(ids))
		for i, id := range ids {
			out[i] = popularRepo{Identity: id, Path: fmt.Sprintf("/api/repo/%s/%s/%s", id.Site, id.Owner, id.Name)}
		}
		return out, nil
	})
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.ErrCodeFetch, err, "popular repositories"))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type popularRepo struct {
	project.Identity
	Path string `json:"path"`
}

func (s *Server) memo(key string, load func() (any, error)) (any, error) {
	if v, ok := s.popular.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	s.popular.Add(key, v)
	return v, nil
}
