package reconciler

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/registryhq/orgcp/internal/orgs"
	"github.com/registryhq/orgcp/pkg/billing"
	"github.com/registryhq/orgcp/pkg/directory"
	"github.com/registryhq/orgcp/pkg/sponsor"
)

// MemberSeat is a roster row annotated with whether the member currently
// occupies a paid seat under the organization's license.
type MemberSeat struct {
	orgs.Member
	Sponsored bool `json:"sponsored"`
}

// OrgContext is everything the organization page needs in one shot.
type OrgContext struct {
	Org          *orgs.Org             `json:"org"`
	Members      []MemberSeat          `json:"members"`
	MemberCount  int                   `json:"member_count"`
	Perms        orgs.Perms            `json:"perms"`
	Subscription *billing.Subscription `json:"subscription,omitempty"`
	ActiveSeats  int                   `json:"active_seats"`
	Price        int                   `json:"price"`
}

// FetchOrgContext assembles the organization record, one roster page, the
// caller's permissions, and the license state. The three upstreams are
// queried concurrently; the sponsorship ledger is consulted afterwards only
// when a license exists.
func (r *Reconciler) FetchOrgContext(ctx context.Context, scope string, caller string, siteAdmin bool) (*OrgContext, error) {
	var (
		org  *orgs.Org
		page *directory.MemberPage
		sub  *billing.Subscription
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := r.directory.GetOrg(gctx, scope)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return &orgs.OrgNotFoundError{Org: scope}
			}
			return fmt.Errorf("look up org %s: %w", scope, err)
		}
		org = o
		return nil
	})
	g.Go(func() error {
		p, err := r.directory.ListMembers(gctx, scope, 0)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return &orgs.OrgNotFoundError{Org: scope}
			}
			return fmt.Errorf("list members of %s: %w", scope, err)
		}
		page = p
		return nil
	})
	g.Go(func() error {
		s, err := r.orgSubscription(gctx, caller, scope)
		if err != nil && !errors.Is(err, billing.ErrNotFound) {
			return fmt.Errorf("look up license for %s: %w", scope, err)
		}
		sub = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	octx := &OrgContext{
		Org:         org,
		MemberCount: page.Count,
		Perms:       orgs.Resolve(page.Items, caller, siteAdmin),
	}

	var seats []sponsor.Sponsorship
	if sub != nil {
		octx.Subscription = sub
		s, err := r.sponsor.List(ctx, sub.LicenseID)
		if err != nil && !errors.Is(err, sponsor.ErrNotFound) {
			return nil, fmt.Errorf("list sponsorships for license %d: %w", sub.LicenseID, err)
		}
		seats = s
	}

	sponsored := make(map[string]bool, len(seats))
	for i := range seats {
		if seats[i].Active() {
			sponsored[seats[i].User] = true
			octx.ActiveSeats++
		}
	}

	octx.Members = make([]MemberSeat, 0, len(page.Items))
	for _, m := range page.Items {
		octx.Members = append(octx.Members, MemberSeat{Member: m, Sponsored: sponsored[m.User]})
	}
	octx.Price = r.pricing.Price(octx.ActiveSeats)
	return octx, nil
}
