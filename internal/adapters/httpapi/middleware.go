package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"erpcore/internal/core"
	"erpcore/pkg/domain"
)

// Actor headers. Requests without X-Actor carry no actor and are denied by
// the backends.
const (
	HeaderActor = "X-Actor"
	HeaderRole  = "X-Role"
)

var knownRoles = map[domain.Role]struct{}{
	domain.RoleAdmin:      {},
	domain.RoleSales:      {},
	domain.RoleAccounting: {},
	domain.RoleMember:     {},
}

func actorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.Header.Get(HeaderActor))
		if name == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))))
		if role == "" {
			role = domain.RoleMember
		}
		if _, ok := knownRoles[role]; !ok {
			writeError(w, http.StatusBadRequest, "INVALID_ROLE", "unknown role: "+string(role))
			return
		}
		ctx := domain.WithActor(r.Context(), domain.Actor{Name: name, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(logger core.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
