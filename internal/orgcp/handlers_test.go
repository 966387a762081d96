package orgcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registryhq/orgcp/internal/notice"
	"github.com/registryhq/orgcp/internal/orgs"
	"github.com/registryhq/orgcp/internal/reconciler"
	"github.com/registryhq/orgcp/pkg/billing"
	"github.com/registryhq/orgcp/pkg/directory"
)

type fakeRec struct {
	addMember      func(org, payer, user string, role orgs.Role, paid bool) error
	removeMember   func(org, payer, user string) error
	setPayStatus   func(org, payer, user string, paid bool) error
	deleteOrg      func(org, payer string) (*billing.Subscription, error)
	restartOrg     func(org, payer string) (*reconciler.RestartResult, error)
	restartUnlic   func(org, payer string, siteAdmin bool) (*billing.Subscription, error)
	fetchOrgCtx    func(scope, caller string, siteAdmin bool) (*reconciler.OrgContext, error)
	workflowCalled bool
}

func (f *fakeRec) AddMember(_ context.Context, org, payer, user string, role orgs.Role, paid bool) error {
	f.workflowCalled = true
	if f.addMember == nil {
		return nil
	}
	return f.addMember(org, payer, user, role, paid)
}

func (f *fakeRec) RemoveMember(_ context.Context, org, payer, user string) error {
	f.workflowCalled = true
	if f.removeMember == nil {
		return nil
	}
	return f.removeMember(org, payer, user)
}

func (f *fakeRec) SetPayStatus(_ context.Context, org, payer, user string, paid bool) error {
	f.workflowCalled = true
	if f.setPayStatus == nil {
		return nil
	}
	return f.setPayStatus(org, payer, user, paid)
}

func (f *fakeRec) DeleteOrg(_ context.Context, org, payer string) (*billing.Subscription, error) {
	f.workflowCalled = true
	if f.deleteOrg == nil {
		return &billing.Subscription{Org: org, Status: "canceled"}, nil
	}
	return f.deleteOrg(org, payer)
}

func (f *fakeRec) RestartOrg(_ context.Context, org, payer string) (*reconciler.RestartResult, error) {
	f.workflowCalled = true
	if f.restartOrg == nil {
		return &reconciler.RestartResult{Outcome: reconciler.RestartCompleted}, nil
	}
	return f.restartOrg(org, payer)
}

func (f *fakeRec) RestartUnlicensedOrg(_ context.Context, org, payer string, siteAdmin bool) (*billing.Subscription, error) {
	f.workflowCalled = true
	if f.restartUnlic == nil {
		return &billing.Subscription{Org: org, LicenseID: 28}, nil
	}
	return f.restartUnlic(org, payer, siteAdmin)
}

func (f *fakeRec) FetchOrgContext(_ context.Context, scope, caller string, siteAdmin bool) (*reconciler.OrgContext, error) {
	if f.fetchOrgCtx == nil {
		return &reconciler.OrgContext{
			Org:   &orgs.Org{Name: scope},
			Perms: orgs.Perms{IsSuperAdmin: true, IsAtLeastTeamAdmin: true, IsAtLeastMember: true},
			Price: 14,
		}, nil
	}
	return f.fetchOrgCtx(scope, caller, siteAdmin)
}

type fakeDir struct {
	users map[string]*directory.User
	orgs  map[string]*orgs.Org
	pages map[string]*directory.MemberPage
}

func (f *fakeDir) GetUser(_ context.Context, name string) (*directory.User, error) {
	if u, ok := f.users[name]; ok {
		return u, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDir) GetOrg(_ context.Context, scope string) (*orgs.Org, error) {
	if o, ok := f.orgs[scope]; ok {
		return o, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDir) ListMembers(_ context.Context, scope string, page int) (*directory.MemberPage, error) {
	if p, ok := f.pages[scope]; ok && page == 0 {
		return p, nil
	}
	if _, ok := f.pages[scope]; ok {
		return &directory.MemberPage{Count: f.pages[scope].Count}, nil
	}
	return nil, directory.ErrNotFound
}

type fakeBill struct {
	customers map[string]*billing.Customer
}

func (f *fakeBill) GetCustomer(_ context.Context, user string) (*billing.Customer, error) {
	if c, ok := f.customers[user]; ok {
		return c, nil
	}
	return nil, billing.ErrNotFound
}

type testEnv struct {
	mux  *http.ServeMux
	rec  *fakeRec
	dir  *fakeDir
	bill *fakeBill
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	notices, err := notice.NewStore(t.TempDir(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(notices.Close)

	rec := &fakeRec{}
	dir := &fakeDir{
		users: map[string]*directory.User{
			"bob": {Name: "bob"},
			"ops": {Name: "ops", SiteAdmin: true},
		},
		orgs:  map[string]*orgs.Org{},
		pages: map[string]*directory.MemberPage{},
	}
	bill := &fakeBill{customers: map[string]*billing.Customer{}}

	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{
		Handlers: NewHandlers(rec, dir, bill, notices),
		Resolver: dir,
	})
	return &testEnv{mux: mux, rec: rec, dir: dir, bill: bill}
}

func (e *testEnv) get(t *testing.T, path, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-Auth-User", user)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) post(t *testing.T, path, user string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if user != "" {
		req.Header.Set("X-Auth-User", user)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

// readNotice follows the notice token on a redirect and returns its messages.
func (e *testEnv) readNotice(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	token := loc.Query().Get("notice")
	require.NotEmpty(t, token, "redirect %q carries no notice token", rr.Header().Get("Location"))

	nr := e.get(t, "/notice/"+token, "")
	require.Equal(t, http.StatusOK, nr.Code)
	var body struct {
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(nr.Body).Decode(&body))
	return body.Messages
}

func TestRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	rr := env.get(t, "/org/bigco", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.get(t, "/org/bigco", "stranger")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestShowOrg(t *testing.T) {
	env := newTestEnv(t)

	rr := env.get(t, "/org/bigco", "bob")
	require.Equal(t, http.StatusOK, rr.Code)

	var octx reconciler.OrgContext
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&octx))
	assert.Equal(t, "bigco", octx.Org.Name)
	assert.Equal(t, 14, octx.Price)
}

func TestShowOrgInvalidScope(t *testing.T) {
	env := newTestEnv(t)

	rr := env.get(t, "/org/Big%20Co", "bob")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	// Name validation failed before anything upstream was consulted.
	assert.False(t, env.rec.workflowCalled)
}

func TestShowOrgNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.rec.fetchOrgCtx = func(scope, caller string, siteAdmin bool) (*reconciler.OrgContext, error) {
		return nil, &orgs.OrgNotFoundError{Org: scope}
	}

	rr := env.get(t, "/org/ghostco", "bob")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestShowOrgNonMember(t *testing.T) {
	env := newTestEnv(t)
	env.rec.fetchOrgCtx = func(scope, caller string, siteAdmin bool) (*reconciler.OrgContext, error) {
		return &reconciler.OrgContext{Org: &orgs.Org{Name: scope}}, nil
	}

	rr := env.get(t, "/org/bigco", "bob")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "You are not authorized to access this page")
}

func TestAddUserRedirectsToMembers(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(t, "/org/bigco", "bob", url.Values{
		"updateType": {"addUser"},
		"user":       {"betty"},
		"role":       {"developer"},
	})

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/org/bigco/members", rr.Header().Get("Location"))
}

func TestAddUserFailureCarriesNotice(t *testing.T) {
	env := newTestEnv(t)
	env.rec.addMember = func(org, payer, user string, role orgs.Role, paid bool) error {
		return &orgs.NoLicenseError{Org: org}
	}

	rr := env.post(t, "/org/bigco", "bob", url.Values{
		"updateType": {"addUser"},
		"user":       {"betty"},
		"role":       {"developer"},
	})

	require.Equal(t, http.StatusFound, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/org/bigco/members?notice="))
	assert.Equal(t, []string{"No license for org bigco found"}, env.readNotice(t, rr))
}

func TestNoticeIsOneTime(t *testing.T) {
	env := newTestEnv(t)
	env.rec.addMember = func(org, payer, user string, role orgs.Role, paid bool) error {
		return &orgs.UserNotFoundError{User: user}
	}

	rr := env.post(t, "/org/bigco", "bob", url.Values{
		"updateType": {"addUser"},
		"user":       {"ghost"},
		"role":       {"developer"},
	})
	require.Equal(t, http.StatusFound, rr.Code)

	loc, _ := url.Parse(rr.Header().Get("Location"))
	token := loc.Query().Get("notice")

	first := env.get(t, "/notice/"+token, "")
	assert.Equal(t, http.StatusOK, first.Code)

	second := env.get(t, "/notice/"+token, "")
	assert.Equal(t, http.StatusNotFound, second.Code)
}

func TestUpdateInvalidScopeNeverReachesWorkflows(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(t, "/org/bigco_aoi%26%26", "bob", url.Values{
		"updateType": {"deleteOrg"},
	})

	require.Equal(t, http.StatusFound, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/settings/billing?notice="))
	assert.Equal(t, []string{"Org Scope must be valid name"}, env.readNotice(t, rr))
	assert.False(t, env.rec.workflowCalled)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	env.rec.removeMember = func(org, payer, user string) error {
		return &orgs.MembershipRemovalError{Org: org, User: user}
	}

	rr := env.post(t, "/org/bigco", "bob", url.Values{
		"updateType": {"deleteUser"},
		"user":       {"betty"},
	})

	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, []string{"org or user not found"}, env.readNotice(t, rr))
}

func TestUpdatePayStatus(t *testing.T) {
	env := newTestEnv(t)
	var gotPaid *bool
	env.rec.setPayStatus = func(org, payer, user string, paid bool) error {
		gotPaid = &paid
		return nil
	}

	rr := env.post(t, "/org/bigco", "bob", url.Values{
		"updateType": {"updatePayStatus"},
		"user":       {"betty"},
		"payStatus":  {"unpaid"},
	})

	assert.Equal(t, http.StatusFound, rr.Code)
	require.NotNil(t, gotPaid)
	assert.False(t, *gotPaid)
}

func TestDeleteOrg(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(t, "/org/bigco", "bob", url.Values{
		"updateType": {"deleteOrg"},
	})

	require.Equal(t, http.StatusFound, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/settings/billing?notice="))
	assert.Equal(t, []string{"You will no longer be billed for @bigco."}, env.readNotice(t, rr))
}

func TestRestartOrgOutcomes(t *testing.T) {
	t.Run("unknown org", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartOrg = func(org, payer string) (*reconciler.RestartResult, error) {
			return nil, &orgs.OrgNotFoundError{Org: org}
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/settings/billing?notice="))
		assert.Equal(t, []string{"Org not found"}, env.readNotice(t, rr))
	})

	t.Run("org without license confirms first", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartOrg = func(org, payer string) (*reconciler.RestartResult, error) {
			return &reconciler.RestartResult{Outcome: reconciler.RestartNeedsConfirmation}, nil
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "/org/bigco/restart-license", rr.Header().Get("Location"))
	})

	t.Run("payer without billing profile", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartOrg = func(org, payer string) (*reconciler.RestartResult, error) {
			return &reconciler.RestartResult{Outcome: reconciler.RestartNeedsCustomer}, nil
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "/org/bigco/restart", rr.Header().Get("Location"))
	})

	t.Run("completed restart", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartOrg = func(org, payer string) (*reconciler.RestartResult, error) {
			return &reconciler.RestartResult{
				Outcome:  reconciler.RestartCompleted,
				Migrated: []string{"bob", "betty"},
			}, nil
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/org/bigco?notice="))
		assert.Equal(t, []string{"You have successfully restarted payment for bigco"}, env.readNotice(t, rr))
	})

	t.Run("completed restart with seat failures", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartOrg = func(org, payer string) (*reconciler.RestartResult, error) {
			return &reconciler.RestartResult{
				Outcome:    reconciler.RestartCompleted,
				Migrated:   []string{"betty"},
				SeatErrors: []error{&orgs.SponsorshipRevokeError{LicenseID: 1, User: "bob"}},
			}, nil
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, []string{
			"You have successfully restarted payment for bigco",
			"user or licenseId not found",
		}, env.readNotice(t, rr))
	})
}

func TestRestartUnlicensedOrg(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartUnlicensedOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/org/bigco?notice="))
		assert.Equal(t, []string{"You have successfully restarted bigco"}, env.readNotice(t, rr))
	})

	t.Run("not a super admin", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartUnlic = func(org, payer string, siteAdmin bool) (*billing.Subscription, error) {
			return nil, &orgs.NotAuthorizedError{User: payer, Action: orgs.AuthActionRestart}
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartUnlicensedOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, []string{"bob does not have permission to restart this organization"}, env.readNotice(t, rr))
	})

	t.Run("license already exists", func(t *testing.T) {
		env := newTestEnv(t)
		env.rec.restartUnlic = func(org, payer string, siteAdmin bool) (*billing.Subscription, error) {
			return nil, &orgs.LicenseAlreadyExistsError{Org: org}
		}

		rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"restartUnlicensedOrg"}})
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, []string{"The license for bigco already exists."}, env.readNotice(t, rr))
	})
}

func TestUnknownUpdateType(t *testing.T) {
	env := newTestEnv(t)

	rr := env.post(t, "/org/bigco", "bob", url.Values{"updateType": {"explode"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMemberCheck(t *testing.T) {
	env := newTestEnv(t)
	env.dir.pages["bigco"] = &directory.MemberPage{
		Count: 2,
		Items: []orgs.Member{
			{User: "bob", Role: orgs.RoleSuperAdmin},
			{User: "betty", Role: orgs.RoleDeveloper},
		},
	}

	rr := env.get(t, "/org/bigco/user?member=betty", "bob")
	require.Equal(t, http.StatusOK, rr.Code)
	var m orgs.Member
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&m))
	assert.Equal(t, orgs.RoleDeveloper, m.Role)

	rr = env.get(t, "/org/bigco/user?member=stranger", "bob")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.get(t, "/org/ghostco/user?member=betty", "bob")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.get(t, "/org/bigco/user", "bob")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateValidation(t *testing.T) {
	t.Run("free scope proceeds to billing", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.get(t, "/org/create-validation?orgScope=newco", "bob")
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "/org/create/billing?orgScope=newco", rr.Header().Get("Location"))
	})

	t.Run("scope taken by an org", func(t *testing.T) {
		env := newTestEnv(t)
		env.dir.orgs["bigco"] = &orgs.Org{Name: "bigco"}

		rr := env.get(t, "/org/create-validation?orgScope=bigco", "bob")
		require.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/org/create?notice="))
	})

	t.Run("scope taken by a user name", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.get(t, "/org/create-validation?orgScope=bob", "bob")
		require.Equal(t, http.StatusFound, rr.Code)
		assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/org/create?notice="))
	})

	t.Run("invalid scope", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.get(t, "/org/create-validation?orgScope=Big%20Co", "bob")
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, []string{"Org Scope must be valid name"}, env.readNotice(t, rr))
	})
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestNoticeUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.get(t, "/notice/bogus", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
