package orgcp

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/registryhq/orgcp/internal/notice"
	"github.com/registryhq/orgcp/internal/orgcp/opmetrics"
	"github.com/registryhq/orgcp/internal/orgs"
	"github.com/registryhq/orgcp/internal/reconciler"
	"github.com/registryhq/orgcp/pkg/billing"
	"github.com/registryhq/orgcp/pkg/directory"
)

const fallbackNotice = "Something went wrong, please try again later"

// OrgReconciler is the slice of the reconciler the HTTP surface drives.
type OrgReconciler interface {
	AddMember(ctx context.Context, org, payer, user string, role orgs.Role, paid bool) error
	RemoveMember(ctx context.Context, org, payer, user string) error
	SetPayStatus(ctx context.Context, org, payer, user string, paid bool) error
	DeleteOrg(ctx context.Context, org, payer string) (*billing.Subscription, error)
	RestartOrg(ctx context.Context, org, payer string) (*reconciler.RestartResult, error)
	RestartUnlicensedOrg(ctx context.Context, org, payer string, siteAdmin bool) (*billing.Subscription, error)
	FetchOrgContext(ctx context.Context, scope, caller string, siteAdmin bool) (*reconciler.OrgContext, error)
}

// DirectoryAPI is the slice of the membership directory the handlers use
// beyond what the reconciler already covers.
type DirectoryAPI interface {
	GetUser(ctx context.Context, name string) (*directory.User, error)
	GetOrg(ctx context.Context, scope string) (*orgs.Org, error)
	ListMembers(ctx context.Context, scope string, page int) (*directory.MemberPage, error)
}

// BillingAPI is the slice of the billing service the handlers use directly.
type BillingAPI interface {
	GetCustomer(ctx context.Context, user string) (*billing.Customer, error)
}

// Handlers serves the organization routes.
type Handlers struct {
	rec       OrgReconciler
	directory DirectoryAPI
	billing   BillingAPI
	notices   *notice.Store
}

// NewHandlers wires the organization handlers.
func NewHandlers(rec OrgReconciler, dir DirectoryAPI, bill BillingAPI, notices *notice.Store) *Handlers {
	return &Handlers{rec: rec, directory: dir, billing: bill, notices: notices}
}

// redirectWithNotice stores the messages under a one-time token and sends
// the browser to target with the token attached. If the store fails the
// redirect still happens, just without the notice.
func (h *Handlers) redirectWithNotice(w http.ResponseWriter, r *http.Request, target string, messages ...string) {
	token, err := h.notices.Write(messages...)
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("Failed to write notice")
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	opmetrics.NoticesWritten.Inc()
	http.Redirect(w, r, target+"?notice="+url.QueryEscape(token), http.StatusFound)
}

// HandleNotice serves GET /notice/{token}: it consumes the one-time notice
// and returns its messages. A token can be read exactly once.
func (h *Handlers) HandleNotice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	messages, err := h.notices.Consume(r.PathValue("token"), time.Now())
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "notice not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// HandleOrg serves the organization page and its mutations.
func (h *Handlers) HandleOrg(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.showOrg(w, r)
	case http.MethodPost:
		h.updateOrg(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *Handlers) showOrg(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	if !orgs.ValidScopeName(scope) {
		writeError(w, http.StatusNotFound, "not_found", "Org not found")
		return
	}
	caller := callerFrom(r.Context())

	octx, err := h.rec.FetchOrgContext(r.Context(), scope, caller.Name, caller.SiteAdmin)
	if err != nil {
		var notFound *orgs.OrgNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "not_found", "Org not found")
			return
		}
		log.Error().Err(err).Str("org", scope).Msg("Failed to assemble org page")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}

	if !octx.Perms.IsAtLeastMember {
		denied := &orgs.NotAuthorizedError{User: caller.Name, Action: orgs.AuthActionAccess}
		writeError(w, http.StatusForbidden, "forbidden", denied.Error())
		return
	}
	writeJSON(w, http.StatusOK, octx)
}

// updateOrg dispatches POST /org/{scope} on the updateType form field. Every
// branch validates the scope name before any remote call is issued.
func (h *Handlers) updateOrg(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	caller := callerFrom(r.Context())

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed form body")
		return
	}
	updateType := r.PostFormValue("updateType")

	if !orgs.ValidScopeName(scope) {
		opmetrics.WorkflowTotal.WithLabelValues(updateType, "rejected").Inc()
		invalid := &orgs.InvalidScopeNameError{Scope: scope}
		h.redirectWithNotice(w, r, "/settings/billing", invalid.Error())
		return
	}

	start := time.Now()
	membersPage := "/org/" + scope + "/members"

	var outcome string
	defer func() {
		opmetrics.WorkflowTotal.WithLabelValues(updateType, outcome).Inc()
		opmetrics.WorkflowDuration.WithLabelValues(updateType).Observe(time.Since(start).Seconds())
	}()

	switch updateType {
	case "addUser":
		user := r.PostFormValue("user")
		role := orgs.Role(r.PostFormValue("role"))
		if user == "" || !role.Valid() {
			outcome = "rejected"
			writeError(w, http.StatusBadRequest, "bad_request", "user and a valid role are required")
			return
		}
		paid := r.PostFormValue("paid") != "false"
		if err := h.rec.AddMember(r.Context(), scope, caller.Name, user, role, paid); err != nil {
			outcome = "error"
			h.redirectWithNotice(w, r, membersPage, orgs.UserMessage(err, fallbackNotice))
			return
		}
		outcome = "success"
		http.Redirect(w, r, membersPage, http.StatusFound)

	case "deleteUser":
		user := r.PostFormValue("user")
		if user == "" {
			outcome = "rejected"
			writeError(w, http.StatusBadRequest, "bad_request", "user is required")
			return
		}
		if err := h.rec.RemoveMember(r.Context(), scope, caller.Name, user); err != nil {
			outcome = "error"
			h.redirectWithNotice(w, r, membersPage, orgs.UserMessage(err, fallbackNotice))
			return
		}
		outcome = "success"
		http.Redirect(w, r, membersPage, http.StatusFound)

	case "updatePayStatus":
		user := r.PostFormValue("user")
		if user == "" {
			outcome = "rejected"
			writeError(w, http.StatusBadRequest, "bad_request", "user is required")
			return
		}
		paid := r.PostFormValue("payStatus") == "paid"
		if err := h.rec.SetPayStatus(r.Context(), scope, caller.Name, user, paid); err != nil {
			outcome = "error"
			h.redirectWithNotice(w, r, membersPage, orgs.UserMessage(err, fallbackNotice))
			return
		}
		outcome = "success"
		http.Redirect(w, r, membersPage, http.StatusFound)

	case "deleteOrg":
		if _, err := h.rec.DeleteOrg(r.Context(), scope, caller.Name); err != nil {
			outcome = "error"
			h.redirectWithNotice(w, r, "/settings/billing", orgs.UserMessage(err, fallbackNotice))
			return
		}
		outcome = "success"
		h.redirectWithNotice(w, r, "/settings/billing", "You will no longer be billed for @"+scope+".")

	case "restartOrg":
		h.restartOrg(w, r, scope, caller, &outcome)

	case "restartUnlicensedOrg":
		sub, err := h.rec.RestartUnlicensedOrg(r.Context(), scope, caller.Name, caller.SiteAdmin)
		if err != nil {
			outcome = "error"
			h.redirectWithNotice(w, r, "/settings/billing", orgs.UserMessage(err, fallbackNotice))
			return
		}
		outcome = "success"
		log.Info().Str("org", scope).Int("licenseID", sub.LicenseID).Msg("First license provisioned")
		h.redirectWithNotice(w, r, "/org/"+scope, "You have successfully restarted "+scope)

	default:
		outcome = "rejected"
		writeError(w, http.StatusBadRequest, "bad_request", "unknown updateType")
	}
}

func (h *Handlers) restartOrg(w http.ResponseWriter, r *http.Request, scope string, caller *directory.User, outcome *string) {
	res, err := h.rec.RestartOrg(r.Context(), scope, caller.Name)
	if err != nil {
		*outcome = "error"
		h.redirectWithNotice(w, r, "/settings/billing", orgs.UserMessage(err, fallbackNotice))
		return
	}

	switch res.Outcome {
	case reconciler.RestartNeedsConfirmation:
		*outcome = "needs-confirmation"
		http.Redirect(w, r, "/org/"+scope+"/restart-license", http.StatusFound)
	case reconciler.RestartNeedsCustomer:
		*outcome = "needs-customer"
		http.Redirect(w, r, "/org/"+scope+"/restart", http.StatusFound)
	default:
		*outcome = "success"
		for range res.Migrated {
			opmetrics.SeatsMigrated.WithLabelValues("migrated").Inc()
		}
		messages := []string{"You have successfully restarted payment for " + scope}
		for _, seatErr := range res.SeatErrors {
			opmetrics.SeatsMigrated.WithLabelValues("failed").Inc()
			messages = append(messages, orgs.UserMessage(seatErr, fallbackNotice))
		}
		h.redirectWithNotice(w, r, "/org/"+scope, messages...)
	}
}

// HandleMemberCheck serves GET /org/{scope}/user?member={user}: it walks the
// roster pages and reports whether the user belongs to the organization.
func (h *Handlers) HandleMemberCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	scope := r.PathValue("scope")
	if !orgs.ValidScopeName(scope) {
		writeError(w, http.StatusNotFound, "not_found", "Org not found")
		return
	}
	member := r.URL.Query().Get("member")
	if member == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "member query parameter is required")
		return
	}

	seen := 0
	for page := 0; ; page++ {
		roster, err := h.directory.ListMembers(r.Context(), scope, page)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "Org not found")
				return
			}
			log.Error().Err(err).Str("org", scope).Msg("Roster page fetch failed")
			writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
			return
		}
		for i := range roster.Items {
			if roster.Items[i].User == member && roster.Items[i].Active() {
				writeJSON(w, http.StatusOK, roster.Items[i])
				return
			}
		}
		seen += len(roster.Items)
		if len(roster.Items) == 0 || seen >= roster.Count {
			break
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "member not found")
}

// HandleOrgBilling serves GET /org/{scope}/billing, the payment detail view.
// Only super-admins may see it.
func (h *Handlers) HandleOrgBilling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	scope := r.PathValue("scope")
	if !orgs.ValidScopeName(scope) {
		writeError(w, http.StatusNotFound, "not_found", "Org not found")
		return
	}
	caller := callerFrom(r.Context())

	octx, err := h.rec.FetchOrgContext(r.Context(), scope, caller.Name, caller.SiteAdmin)
	if err != nil {
		var notFound *orgs.OrgNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "not_found", "Org not found")
			return
		}
		log.Error().Err(err).Str("org", scope).Msg("Failed to assemble billing page")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}
	if !octx.Perms.IsSuperAdmin {
		denied := &orgs.NotAuthorizedError{User: caller.Name, Action: orgs.AuthActionAccess}
		h.redirectWithNotice(w, r, "/settings/billing", denied.Error())
		return
	}

	customer, err := h.billing.GetCustomer(r.Context(), caller.Name)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		log.Error().Err(err).Str("payer", caller.Name).Msg("Customer lookup failed")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"org":          octx.Org,
		"customer":     customer,
		"subscription": octx.Subscription,
		"active_seats": octx.ActiveSeats,
		"price":        octx.Price,
	})
}

// HandleRestartLicensePage serves GET /org/{scope}/restart-license, the
// confirmation page shown before provisioning a first license for an org
// that exists but has none.
func (h *Handlers) HandleRestartLicensePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	scope := r.PathValue("scope")
	if !orgs.ValidScopeName(scope) {
		writeError(w, http.StatusNotFound, "not_found", "Org not found")
		return
	}
	caller := callerFrom(r.Context())

	octx, err := h.rec.FetchOrgContext(r.Context(), scope, caller.Name, caller.SiteAdmin)
	if err != nil {
		h.redirectWithNotice(w, r, "/settings/billing", orgs.UserMessage(err, fallbackNotice))
		return
	}
	if octx.Subscription != nil {
		exists := &orgs.LicenseAlreadyExistsError{Org: scope}
		h.redirectWithNotice(w, r, "/settings/billing", exists.Error())
		return
	}
	if !octx.Perms.IsSuperAdmin {
		denied := &orgs.NotAuthorizedError{User: caller.Name, Action: orgs.AuthActionView}
		h.redirectWithNotice(w, r, "/settings/billing", denied.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"org":          octx.Org,
		"member_count": octx.MemberCount,
		"price":        octx.Price,
	})
}

// HandleRestartPage serves GET /org/{scope}/restart, the page asking a
// would-be payer with no billing profile to enter payment information.
func (h *Handlers) HandleRestartPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	scope := r.PathValue("scope")
	if !orgs.ValidScopeName(scope) {
		writeError(w, http.StatusNotFound, "not_found", "Org not found")
		return
	}
	caller := callerFrom(r.Context())

	if _, err := h.billing.GetCustomer(r.Context(), caller.Name); err == nil {
		// An existing customer restarts through the license flow instead.
		h.redirectWithNotice(w, r, "/settings/billing", "Customer exists")
		return
	} else if !errors.Is(err, billing.ErrNotFound) {
		log.Error().Err(err).Str("payer", caller.Name).Msg("Customer lookup failed")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}

	octx, err := h.rec.FetchOrgContext(r.Context(), scope, caller.Name, caller.SiteAdmin)
	if err != nil {
		var notFound *orgs.OrgNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "not_found", "Org not found")
			return
		}
		log.Error().Err(err).Str("org", scope).Msg("Failed to assemble restart page")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}
	if !octx.Perms.IsSuperAdmin {
		denied := &orgs.NotAuthorizedError{User: caller.Name, Action: orgs.AuthActionView}
		h.redirectWithNotice(w, r, "/settings/billing", denied.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"org": octx.Org})
}

// HandleCreateValidation serves GET /org/create-validation?orgScope={scope}:
// it checks whether the requested scope is free before the creation flow
// collects payment details.
func (h *Handlers) HandleCreateValidation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	scope := r.URL.Query().Get("orgScope")
	if !orgs.ValidScopeName(scope) {
		invalid := &orgs.InvalidScopeNameError{Scope: scope}
		h.redirectWithNotice(w, r, "/org/create", invalid.Error())
		return
	}

	if _, err := h.directory.GetOrg(r.Context(), scope); err == nil {
		h.redirectWithNotice(w, r, "/org/create", "Org Scope "+scope+" is already in use")
		return
	} else if !errors.Is(err, directory.ErrNotFound) {
		log.Error().Err(err).Str("org", scope).Msg("Scope availability check failed")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}

	if _, err := h.directory.GetUser(r.Context(), scope); err == nil {
		h.redirectWithNotice(w, r, "/org/create", "Org Scope "+scope+" is already in use")
		return
	} else if !errors.Is(err, directory.ErrNotFound) {
		log.Error().Err(err).Str("user", scope).Msg("Scope availability check failed")
		writeError(w, http.StatusBadGateway, "upstream_error", fallbackNotice)
		return
	}

	http.Redirect(w, r, "/org/create/billing?orgScope="+url.QueryEscape(scope), http.StatusFound)
}
