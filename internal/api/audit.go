package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/auth"
)

// subjectFrom returns the token subject of an authenticated request.
func subjectFrom(ctx context.Context) string {
	if claims, ok := ctx.Value(ctxKeyClaims).(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}

func (s *Server) auditCommand(r *http.Request, deviceID, command string, err error) {
	if s.audit == nil {
		return
	}
	s.audit.Command(r.Context(), audit.SourceAPI, subjectFrom(r.Context()), deviceID, command, err)
}

func (s *Server) auditPairing(r *http.Request, action, deviceID string, err error) {
	if s.audit == nil {
		return
	}
	s.audit.Pairing(r.Context(), action, subjectFrom(r.Context()), deviceID, err)
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, device_id, source, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
		Source:   q.Get("source"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
