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

// RestartOutcome says how a license restart resolved.
type RestartOutcome int

const (
	// RestartCompleted means a fresh license was provisioned and every
	// verified seat migrated onto it.
	RestartCompleted RestartOutcome = iota
	// RestartNeedsConfirmation means the organization exists but the payer
	// holds no license for it; the payer must confirm creating one.
	RestartNeedsConfirmation
	// RestartNeedsCustomer means the payer has no billing profile at all
	// and must enter payment information first.
	RestartNeedsCustomer
)

// RestartResult is the outcome of a RestartOrg call.
type RestartResult struct {
	Outcome      RestartOutcome
	Subscription *billing.Subscription
	Migrated     []string
	SeatErrors   []error
}

// RestartOrg restarts payment for an org whose license lapsed. When the
// payer already holds a (canceled or lapsed) license, the old subscription
// is replaced by a fresh one and every verified seat migrates to the new
// license. Seats migrate strictly in ledger order, one user at a time; a
// seat that fails to migrate is reported in SeatErrors and does not stop
// the rest.
func (r *Reconciler) RestartOrg(ctx context.Context, org, payer string) (*RestartResult, error) {
	if _, err := r.directory.GetOrg(ctx, org); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, &orgs.OrgNotFoundError{Org: org}
		}
		return nil, fmt.Errorf("look up org %s: %w", org, err)
	}

	oldSub, err := r.orgSubscription(ctx, payer, org)
	if errors.Is(err, billing.ErrNotFound) {
		return &RestartResult{Outcome: RestartNeedsCustomer}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up license for %s: %w", org, err)
	}
	if oldSub == nil {
		return &RestartResult{Outcome: RestartNeedsConfirmation}, nil
	}

	// Snapshot the seats before touching billing so the old license's
	// ledger order is preserved through the migration.
	seats, err := r.sponsor.List(ctx, oldSub.LicenseID)
	if err != nil {
		if errors.Is(err, sponsor.ErrNotFound) {
			return nil, &orgs.SponsorshipNotFoundError{LicenseID: oldSub.LicenseID}
		}
		return nil, fmt.Errorf("list sponsorships for license %d: %w", oldSub.LicenseID, err)
	}

	if _, err := r.billing.CancelSubscription(ctx, payer, oldSub.ID); err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", oldSub.ID, err)
	}

	newSub, err := r.billing.CreateSubscription(ctx, payer, billing.CreateSubscriptionRequest{
		Org:      org,
		Plan:     r.plan,
		Quantity: oldSub.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription for %s: %w", org, err)
	}

	result := &RestartResult{Outcome: RestartCompleted, Subscription: newSub}
	for i := range seats {
		seat := &seats[i]
		if !seat.Active() {
			continue
		}
		if err := r.migrateSeat(ctx, oldSub.LicenseID, newSub.LicenseID, seat.User); err != nil {
			log.Warn().
				Err(err).
				Str("org", org).
				Str("user", seat.User).
				Int("oldLicenseID", oldSub.LicenseID).
				Int("newLicenseID", newSub.LicenseID).
				Msg("Seat migration failed")
			result.SeatErrors = append(result.SeatErrors, err)
			continue
		}
		result.Migrated = append(result.Migrated, seat.User)
	}

	log.Info().
		Str("org", org).
		Str("payer", payer).
		Int("oldLicenseID", oldSub.LicenseID).
		Int("newLicenseID", newSub.LicenseID).
		Int("migrated", len(result.Migrated)).
		Int("failed", len(result.SeatErrors)).
		Msg("Restarted organization license")
	return result, nil
}

// migrateSeat moves one user from the old license to the new one: record
// the seat on the new license, release the old seat, then accept the new
// verification key. The old seat is only released once the new seat exists,
// so a mid-migration failure never leaves the user without any seat.
func (r *Reconciler) migrateSeat(ctx context.Context, oldLicenseID, newLicenseID int, user string) error {
	sp, err := r.sponsor.Create(ctx, newLicenseID, user)
	if err != nil {
		if errors.Is(err, sponsor.ErrNotFound) {
			return &orgs.SponsorshipNotFoundError{LicenseID: newLicenseID}
		}
		return fmt.Errorf("create sponsorship for %s under license %d: %w", user, newLicenseID, err)
	}

	if _, err := r.sponsor.Revoke(ctx, oldLicenseID, user); err != nil {
		if errors.Is(err, sponsor.ErrNotFound) {
			return &orgs.SponsorshipRevokeError{LicenseID: oldLicenseID, User: user}
		}
		return fmt.Errorf("revoke sponsorship for %s under license %d: %w", user, oldLicenseID, err)
	}

	res, err := r.sponsor.Verify(ctx, sp.VerificationKey)
	if err != nil {
		if errors.Is(err, sponsor.ErrNotFound) {
			return &orgs.VerificationFailedError{Key: sp.VerificationKey}
		}
		return fmt.Errorf("verify sponsorship for %s under license %d: %w", user, newLicenseID, err)
	}
	if res.Outcome == sponsor.OutcomeAlreadySponsored {
		log.Debug().Str("user", user).Int("licenseID", newLicenseID).Msg("Seat already stood on new license")
	}
	return nil
}

// RestartUnlicensedOrg provisions a first license for an org that has none.
// Only a super-admin of the org may do this; the payer becomes the first
// sponsored seat so they are never billed for a roster they are not part of.
func (r *Reconciler) RestartUnlicensedOrg(ctx context.Context, org, payer string, siteAdmin bool) (*billing.Subscription, error) {
	page, err := r.directory.ListMembers(ctx, org, 0)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, &orgs.OrgNotFoundError{Org: org}
		}
		return nil, fmt.Errorf("list members of %s: %w", org, err)
	}

	// An already-licensed org is reported before any permission check.
	existing, err := r.orgSubscription(ctx, payer, org)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return nil, fmt.Errorf("look up license for %s: %w", org, err)
	}
	if existing != nil {
		return nil, &orgs.LicenseAlreadyExistsError{Org: org}
	}

	perms := orgs.Resolve(page.Items, payer, siteAdmin)
	if !perms.IsSuperAdmin {
		return nil, &orgs.NotAuthorizedError{User: payer, Action: orgs.AuthActionRestart}
	}

	quantity := page.Count
	if quantity < 1 {
		quantity = 1
	}
	sub, err := r.billing.CreateSubscription(ctx, payer, billing.CreateSubscriptionRequest{
		Org:      org,
		Plan:     r.plan,
		Quantity: quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription for %s: %w", org, err)
	}

	if err := r.sponsorSeat(ctx, sub.LicenseID, payer); err != nil {
		return nil, err
	}

	log.Info().
		Str("org", org).
		Str("payer", payer).
		Int("licenseID", sub.LicenseID).
		Int("quantity", quantity).
		Msg("Provisioned first organization license")
	return sub, nil
}
