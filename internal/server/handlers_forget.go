package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/hooks"
	"github.com/signetai/signetd/internal/storage"
	"github.com/signetai/signetd/internal/types"
)

type forgetRequest struct {
	Mode         string                 `json:"mode"`
	Selector     storage.ForgetSelector `json:"selector"`
	ConfirmToken string                 `json:"confirmToken,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

// selectorKey is the canonical signing input for confirm tokens. Marshaling
// the typed selector keeps field order stable, so preview and execute agree
// byte for byte.
func selectorKey(sel storage.ForgetSelector) string {
	b, err := json.Marshal(sel)
	if err != nil {
		return ""
	}
	return string(b)
}

// handleForget runs the two-phase batch forget. Preview resolves the
// selector and, above the confirm threshold, issues an HMAC token the
// execute call must echo back.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	if req.Selector.Empty() {
		s.fail(w, r, types.NewInvalidInput("selector must set at least one dimension"), "mutation", "")
		return
	}
	if req.Selector.Limit > types.MaxBatchForget {
		s.fail(w, r, types.NewInvalidInput("selector limit exceeds %d", types.MaxBatchForget), "mutation", "")
		return
	}
	if !s.scopeOK(w, r, authz.Scope{Project: req.Selector.Project}) {
		return
	}

	switch req.Mode {
	case "preview":
		s.forgetPreview(w, r, req)
	case "execute":
		s.forgetExecute(w, r, req)
	default:
		s.fail(w, r, types.NewInvalidInput("mode must be preview or execute"), "mutation", "")
	}
}

func (s *Server) forgetPreview(w http.ResponseWriter, r *http.Request, req forgetRequest) {
	ids, err := s.store.SelectForget(r.Context(), req.Selector)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	count := len(ids)
	body := map[string]any{
		"count":           count,
		"requiresConfirm": count > types.BatchConfirmThreshold,
	}
	if count > types.BatchConfirmThreshold {
		body["confirmToken"] = s.signer.ConfirmToken(selectorKey(req.Selector), count, time.Now())
	} else {
		body["ids"] = ids
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) forgetExecute(w http.ResponseWriter, r *http.Request, req forgetRequest) {
	actor := actorFrom(r)
	if err := s.allow(opBatchForget, actor); err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}

	ids, err := s.store.SelectForget(r.Context(), req.Selector)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	count := len(ids)
	if count > types.BatchConfirmThreshold {
		key := selectorKey(req.Selector)
		if req.ConfirmToken == "" {
			s.fail(w, r, types.NewRequiresConfirm(count,
				s.signer.ConfirmToken(key, count, time.Now())), "mutation", "")
			return
		}
		if !s.signer.VerifyConfirm(req.ConfirmToken, key, count, time.Now()) {
			s.fail(w, r, types.NewConfirmInvalid(), "mutation", "")
			return
		}
	}

	forgotten, err := s.store.ExecuteForget(r.Context(), ids, req.Reason, actor)
	if err != nil {
		s.fail(w, r, err, "mutation", "")
		return
	}
	for _, id := range ids {
		s.hooks.Run(hooks.EventMemoryDeleted, id, map[string]any{
			"id": id, "reason": req.Reason, "actor": actor, "batch": true,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "forgotten",
		"count":  forgotten,
	})
}
