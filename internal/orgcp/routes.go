package orgcp

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/registryhq/orgcp/internal/orgcp/opmetrics"
)

// Deps carries everything route registration needs.
type Deps struct {
	Handlers *Handlers
	Resolver userResolver
}

// RegisterRoutes wires the control plane's HTTP surface onto mux.
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	auth := func(route string, handler http.HandlerFunc) http.Handler {
		return instrument(route, withCaller(deps.Resolver, handler))
	}

	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/notice/{token}", instrument("notice", deps.Handlers.HandleNotice))

	mux.Handle("/org/create-validation", auth("org-create-validation", deps.Handlers.HandleCreateValidation))
	mux.Handle("/org/{scope}", auth("org", deps.Handlers.HandleOrg))
	mux.Handle("/org/{scope}/user", auth("org-member-check", deps.Handlers.HandleMemberCheck))
	mux.Handle("/org/{scope}/billing", auth("org-billing", deps.Handlers.HandleOrgBilling))
	mux.Handle("/org/{scope}/restart", auth("org-restart", deps.Handlers.HandleRestartPage))
	mux.Handle("/org/{scope}/restart-license", auth("org-restart-license", deps.Handlers.HandleRestartLicensePage))
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		opmetrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
