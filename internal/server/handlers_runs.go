package server

import (
	"net/http"

	"treesync/internal/api"
	"treesync/internal/models"
	"treesync/internal/repair"
)

func (s *Server) scopeOrBadRequest(w http.ResponseWriter, r *http.Request, req api.ScopeRequest) (models.Scope, bool) {
	scope, err := req.ParseScope()
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidScope))
		return models.Scope{}, false
	}
	return scope, true
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req api.ScopeRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	scope, ok := s.scopeOrBadRequest(w, r, req)
	if !ok {
		return
	}

	s.withLimiter(w, r, s.runLimiter, "migrate or verify", func() {
		report, err := s.migrator.Migrate(r.Context(), scope)
		if err != nil {
			err = classifyRunError(err)
			status := httpStatusFromError(err)
			resp := s.errorResponse(r, status, err)
			if report != nil && report.ManifestSize > 0 {
				resp.Report = report
			}
			s.writeJSON(w, status, resp)
			return
		}
		s.writeJSON(w, http.StatusOK, api.MigrateResponse{
			Message: "migration complete",
			Report:  report,
		})
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	scope, ok := s.scopeOrBadRequest(w, r, req.ScopeRequest)
	if !ok {
		return
	}

	s.withLimiter(w, r, s.runLimiter, "migrate or verify", func() {
		result, err := s.verifier.VerifyAndRepair(r.Context(), scope, repair.Options{ScanOrphans: req.ScanOrphans})
		if err != nil {
			s.writeServiceError(w, r, classifyRunError(err))
			return
		}
		s.writeJSON(w, http.StatusOK, api.NewVerifyResponse(result))
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req api.ScopeRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	scope, ok := s.scopeOrBadRequest(w, r, req)
	if !ok {
		return
	}

	s.withLimiter(w, r, s.manifestLimiter, "manifest", func() {
		plan, err := s.migrator.Plan(r.Context(), scope)
		if err != nil {
			s.writeServiceError(w, r, classifyRunError(err))
			return
		}
		s.writeJSON(w, http.StatusOK, api.NewManifestResponse(plan))
	})
}
