// Package reconciler coordinates the membership directory, the billing
// service, and the sponsorship ledger so that paid seats stay consistent
// with organization membership. Each workflow issues its remote calls in a
// fixed order and maps upstream failures onto the orgs error taxonomy.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/registryhq/orgcp/internal/orgs"
	"github.com/registryhq/orgcp/pkg/billing"
	"github.com/registryhq/orgcp/pkg/directory"
	"github.com/registryhq/orgcp/pkg/sponsor"
)

// DirectoryClient is the slice of the membership directory the reconciler
// needs.
type DirectoryClient interface {
	GetOrg(ctx context.Context, scope string) (*orgs.Org, error)
	ListMembers(ctx context.Context, scope string, page int) (*directory.MemberPage, error)
	AddMember(ctx context.Context, scope, user string, role orgs.Role) (*orgs.Member, error)
	RemoveMember(ctx context.Context, scope, user string) (*orgs.Member, error)
}

// BillingClient is the slice of the billing service the reconciler needs.
type BillingClient interface {
	ListSubscriptions(ctx context.Context, user string) ([]billing.Subscription, error)
	GetOrgSubscriptions(ctx context.Context, user, org string) ([]billing.Subscription, error)
	CreateSubscription(ctx context.Context, user string, req billing.CreateSubscriptionRequest) (*billing.Subscription, error)
	CancelSubscription(ctx context.Context, user, subscriptionID string) (*billing.Subscription, error)
}

// SponsorClient is the slice of the sponsorship ledger the reconciler needs.
type SponsorClient interface {
	List(ctx context.Context, licenseID int) ([]sponsor.Sponsorship, error)
	Create(ctx context.Context, licenseID int, user string) (*sponsor.Sponsorship, error)
	Verify(ctx context.Context, key string) (*sponsor.VerifyResult, error)
	Revoke(ctx context.Context, licenseID int, user string) (*sponsor.Sponsorship, error)
}

// Config wires a Reconciler.
type Config struct {
	Directory DirectoryClient
	Billing   BillingClient
	Sponsor   SponsorClient
	Plan      string
	Pricing   orgs.Pricing
}

// Reconciler executes the sponsorship reconciliation workflows.
type Reconciler struct {
	directory DirectoryClient
	billing   BillingClient
	sponsor   SponsorClient
	plan      string
	pricing   orgs.Pricing
}

// New creates a Reconciler from cfg.
func New(cfg Config) *Reconciler {
	pricing := cfg.Pricing
	if pricing.PerSeat == 0 {
		pricing = orgs.DefaultPricing
	}
	return &Reconciler{
		directory: cfg.Directory,
		billing:   cfg.Billing,
		sponsor:   cfg.Sponsor,
		plan:      cfg.Plan,
		pricing:   pricing,
	}
}

// Pricing returns the seat pricing the reconciler was configured with.
func (r *Reconciler) Pricing() orgs.Pricing {
	return r.pricing
}

// orgSubscription looks up the payer's subscription for org. Returns
// (nil, nil) when the payer is a customer but holds no license for org;
// billing.ErrNotFound passes through when the payer is not a customer.
func (r *Reconciler) orgSubscription(ctx context.Context, payer, org string) (*billing.Subscription, error) {
	subs, err := r.billing.GetOrgSubscriptions(ctx, payer, org)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return &subs[0], nil
}

// sponsorSeat records a sponsorship for user under licenseID and immediately
// accepts its verification key. A duplicate-seat conflict from the ledger
// counts as success.
func (r *Reconciler) sponsorSeat(ctx context.Context, licenseID int, user string) error {
	sp, err := r.sponsor.Create(ctx, licenseID, user)
	if errors.Is(err, sponsor.ErrNotFound) {
		return &orgs.SponsorshipNotFoundError{LicenseID: licenseID}
	}
	if err != nil {
		return fmt.Errorf("create sponsorship for %s under license %d: %w", user, licenseID, err)
	}

	res, err := r.sponsor.Verify(ctx, sp.VerificationKey)
	if errors.Is(err, sponsor.ErrNotFound) {
		return &orgs.VerificationFailedError{Key: sp.VerificationKey}
	}
	if err != nil {
		return fmt.Errorf("verify sponsorship for %s under license %d: %w", user, licenseID, err)
	}

	log.Debug().
		Str("user", user).
		Int("licenseID", licenseID).
		Str("outcome", string(res.Outcome)).
		Msg("Sponsorship seat settled")
	return nil
}

// AddMember adds user to org with the given role. When paid is set, the new
// member also gets a sponsored seat under org's license, paid for by payer.
func (r *Reconciler) AddMember(ctx context.Context, org, payer, user string, role orgs.Role, paid bool) error {
	if _, err := r.directory.AddMember(ctx, org, user, role); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return &orgs.UserNotFoundError{User: user}
		}
		return fmt.Errorf("add %s to %s: %w", user, org, err)
	}

	if !paid {
		return nil
	}

	sub, err := r.orgSubscription(ctx, payer, org)
	if errors.Is(err, billing.ErrNotFound) || (err == nil && sub == nil) {
		return &orgs.NoLicenseError{Org: org}
	}
	if err != nil {
		return fmt.Errorf("look up license for %s: %w", org, err)
	}

	if err := r.sponsorSeat(ctx, sub.LicenseID, user); err != nil {
		return err
	}

	log.Info().
		Str("org", org).
		Str("user", user).
		Str("role", string(role)).
		Int("licenseID", sub.LicenseID).
		Msg("Added paid member")
	return nil
}

// RemoveMember removes user from org. When a license exists the sponsorship
// seat is released first so a billing seat never outlives the membership;
// the directory row is removed last. An org with no license has no seats to
// release, so removal proceeds straight to the directory.
func (r *Reconciler) RemoveMember(ctx context.Context, org, payer, user string) error {
	sub, err := r.orgSubscription(ctx, payer, org)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return fmt.Errorf("look up license for %s: %w", org, err)
	}

	if sub != nil {
		if _, err := r.sponsor.Revoke(ctx, sub.LicenseID, user); err != nil {
			if errors.Is(err, sponsor.ErrNotFound) {
				return &orgs.SponsorshipRevokeError{LicenseID: sub.LicenseID, User: user}
			}
			return fmt.Errorf("revoke sponsorship for %s under license %d: %w", user, sub.LicenseID, err)
		}
	}

	if _, err := r.directory.RemoveMember(ctx, org, user); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return &orgs.MembershipRemovalError{Org: org, User: user}
		}
		return fmt.Errorf("remove %s from %s: %w", user, org, err)
	}

	log.Info().
		Str("org", org).
		Str("user", user).
		Msg("Removed member")
	return nil
}

// SetPayStatus flips whether user occupies a paid seat under org's license.
// Membership itself is untouched.
func (r *Reconciler) SetPayStatus(ctx context.Context, org, payer, user string, paid bool) error {
	sub, err := r.orgSubscription(ctx, payer, org)
	if errors.Is(err, billing.ErrNotFound) || (err == nil && sub == nil) {
		return &orgs.NoLicenseError{Org: org}
	}
	if err != nil {
		return fmt.Errorf("look up license for %s: %w", org, err)
	}

	if paid {
		return r.sponsorSeat(ctx, sub.LicenseID, user)
	}

	if _, err := r.sponsor.Revoke(ctx, sub.LicenseID, user); err != nil {
		if errors.Is(err, sponsor.ErrNotFound) {
			return &orgs.SponsorshipRevokeError{LicenseID: sub.LicenseID, User: user}
		}
		return fmt.Errorf("revoke sponsorship for %s under license %d: %w", user, sub.LicenseID, err)
	}
	return nil
}

// DeleteOrg cancels the payer's subscription for org. The organization and
// its roster stay in the directory; only billing stops.
func (r *Reconciler) DeleteOrg(ctx context.Context, org, payer string) (*billing.Subscription, error) {
	subs, err := r.billing.ListSubscriptions(ctx, payer)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return nil, &orgs.NoLicenseError{Org: org}
		}
		return nil, fmt.Errorf("list subscriptions for %s: %w", payer, err)
	}

	for i := range subs {
		if subs[i].Org != org {
			continue
		}
		canceled, err := r.billing.CancelSubscription(ctx, payer, subs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("cancel subscription %s: %w", subs[i].ID, err)
		}
		log.Info().
			Str("org", org).
			Str("payer", payer).
			Str("subscriptionID", canceled.ID).
			Msg("Canceled organization subscription")
		return canceled, nil
	}
	return nil, &orgs.NoLicenseError{Org: org}
}
