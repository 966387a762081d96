package reconciler

import (
	"context"
	"fmt"
	"sync"

	"github.com/registryhq/orgcp/internal/orgs"
	"github.com/registryhq/orgcp/pkg/billing"
	"github.com/registryhq/orgcp/pkg/directory"
	"github.com/registryhq/orgcp/pkg/sponsor"
)

// callLog records upstream calls in order so tests can assert sequencing.
// FetchOrgContext fans out concurrently, so appends are locked.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

type fakeDirectory struct {
	log          *callLog
	getOrg       func(scope string) (*orgs.Org, error)
	listMembers  func(scope string, page int) (*directory.MemberPage, error)
	addMember    func(scope, user string, role orgs.Role) (*orgs.Member, error)
	removeMember func(scope, user string) (*orgs.Member, error)
}

func (f *fakeDirectory) GetOrg(_ context.Context, scope string) (*orgs.Org, error) {
	f.log.add("directory.GetOrg %s", scope)
	if f.getOrg == nil {
		return &orgs.Org{Name: scope}, nil
	}
	return f.getOrg(scope)
}

func (f *fakeDirectory) ListMembers(_ context.Context, scope string, page int) (*directory.MemberPage, error) {
	f.log.add("directory.ListMembers %s %d", scope, page)
	if f.listMembers == nil {
		return &directory.MemberPage{}, nil
	}
	return f.listMembers(scope, page)
}

func (f *fakeDirectory) AddMember(_ context.Context, scope, user string, role orgs.Role) (*orgs.Member, error) {
	f.log.add("directory.AddMember %s %s %s", scope, user, role)
	if f.addMember == nil {
		return &orgs.Member{User: user, Role: role}, nil
	}
	return f.addMember(scope, user, role)
}

func (f *fakeDirectory) RemoveMember(_ context.Context, scope, user string) (*orgs.Member, error) {
	f.log.add("directory.RemoveMember %s %s", scope, user)
	if f.removeMember == nil {
		return &orgs.Member{User: user}, nil
	}
	return f.removeMember(scope, user)
}

type fakeBilling struct {
	log         *callLog
	list        func(user string) ([]billing.Subscription, error)
	getOrgSubs  func(user, org string) ([]billing.Subscription, error)
	create      func(user string, req billing.CreateSubscriptionRequest) (*billing.Subscription, error)
	cancel      func(user, subID string) (*billing.Subscription, error)
	createCalls []billing.CreateSubscriptionRequest
}

func (f *fakeBilling) ListSubscriptions(_ context.Context, user string) ([]billing.Subscription, error) {
	f.log.add("billing.ListSubscriptions %s", user)
	if f.list == nil {
		return nil, nil
	}
	return f.list(user)
}

func (f *fakeBilling) GetOrgSubscriptions(_ context.Context, user, org string) ([]billing.Subscription, error) {
	f.log.add("billing.GetOrgSubscriptions %s %s", user, org)
	if f.getOrgSubs == nil {
		return nil, nil
	}
	return f.getOrgSubs(user, org)
}

func (f *fakeBilling) CreateSubscription(_ context.Context, user string, req billing.CreateSubscriptionRequest) (*billing.Subscription, error) {
	f.log.add("billing.CreateSubscription %s %s", user, req.Org)
	f.createCalls = append(f.createCalls, req)
	if f.create == nil {
		return &billing.Subscription{ID: "sub_new", Org: req.Org, Plan: req.Plan, Quantity: req.Quantity, LicenseID: 28}, nil
	}
	return f.create(user, req)
}

func (f *fakeBilling) CancelSubscription(_ context.Context, user, subID string) (*billing.Subscription, error) {
	f.log.add("billing.CancelSubscription %s %s", user, subID)
	if f.cancel == nil {
		return &billing.Subscription{ID: subID, Status: "canceled"}, nil
	}
	return f.cancel(user, subID)
}

type fakeSponsor struct {
	log    *callLog
	list   func(licenseID int) ([]sponsor.Sponsorship, error)
	create func(licenseID int, user string) (*sponsor.Sponsorship, error)
	verify func(key string) (*sponsor.VerifyResult, error)
	revoke func(licenseID int, user string) (*sponsor.Sponsorship, error)
}

func (f *fakeSponsor) List(_ context.Context, licenseID int) ([]sponsor.Sponsorship, error) {
	f.log.add("sponsor.List %d", licenseID)
	if f.list == nil {
		return nil, nil
	}
	return f.list(licenseID)
}

func (f *fakeSponsor) Create(_ context.Context, licenseID int, user string) (*sponsor.Sponsorship, error) {
	f.log.add("sponsor.Create %d %s", licenseID, user)
	if f.create == nil {
		return &sponsor.Sponsorship{LicenseID: licenseID, User: user, VerificationKey: "key-" + user}, nil
	}
	return f.create(licenseID, user)
}

func (f *fakeSponsor) Verify(_ context.Context, key string) (*sponsor.VerifyResult, error) {
	f.log.add("sponsor.Verify %s", key)
	if f.verify == nil {
		verified := true
		return &sponsor.VerifyResult{Outcome: sponsor.OutcomeVerified, Sponsorship: &sponsor.Sponsorship{Verified: &verified}}, nil
	}
	return f.verify(key)
}

func (f *fakeSponsor) Revoke(_ context.Context, licenseID int, user string) (*sponsor.Sponsorship, error) {
	f.log.add("sponsor.Revoke %d %s", licenseID, user)
	if f.revoke == nil {
		return &sponsor.Sponsorship{LicenseID: licenseID, User: user}, nil
	}
	return f.revoke(licenseID, user)
}

type fixture struct {
	log       *callLog
	directory *fakeDirectory
	billing   *fakeBilling
	sponsor   *fakeSponsor
	rec       *Reconciler
}

func newFixture() *fixture {
	log := &callLog{}
	f := &fixture{
		log:       log,
		directory: &fakeDirectory{log: log},
		billing:   &fakeBilling{log: log},
		sponsor:   &fakeSponsor{log: log},
	}
	f.rec = New(Config{
		Directory: f.directory,
		Billing:   f.billing,
		Sponsor:   f.sponsor,
		Plan:      "paid-org-7",
		Pricing:   orgs.DefaultPricing,
	})
	return f
}

func activeSub(org string, licenseID int) billing.Subscription {
	return billing.Subscription{
		ID:        fmt.Sprintf("sub_%s", org),
		Org:       org,
		Plan:      "paid-org-7",
		Quantity:  2,
		LicenseID: licenseID,
		Amount:    700,
		Status:    "active",
	}
}

func verifiedSeat(licenseID int, user string) sponsor.Sponsorship {
	verified := true
	return sponsor.Sponsorship{LicenseID: licenseID, User: user, Verified: &verified}
}

func pendingSeat(licenseID int, user string) sponsor.Sponsorship {
	verified := false
	return sponsor.Sponsorship{LicenseID: licenseID, User: user, Verified: &verified}
}
