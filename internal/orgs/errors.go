package orgs

import (
	"errors"
	"fmt"
	"strconv"
)

// The reconciliation workflows report failures through this taxonomy so the
// HTTP surface can pick a status code, redirect target, and notice text
// without inspecting upstream responses itself. Error messages double as
// user-facing notice text.

// UserNotFoundError reports that a named account does not exist in the
// membership directory.
type UserNotFoundError struct {
	User string
}

func (e *UserNotFoundError) Error() string { return "user not found" }

// OrgNotFoundError reports that the organization scope does not exist.
type OrgNotFoundError struct {
	Org string
}

func (e *OrgNotFoundError) Error() string { return "Org not found" }

// NoLicenseError reports that an operation needing an active license found
// none for the organization.
type NoLicenseError struct {
	Org string
}

func (e *NoLicenseError) Error() string {
	return fmt.Sprintf("No license for org %s found", e.Org)
}

// LicenseAlreadyExistsError reports an attempt to create a license for an
// organization that already holds one.
type LicenseAlreadyExistsError struct {
	Org string
}

func (e *LicenseAlreadyExistsError) Error() string {
	return fmt.Sprintf("The license for %s already exists.", e.Org)
}

// SponsorshipNotFoundError reports that the sponsorship ledger has no entry
// for the given license.
type SponsorshipNotFoundError struct {
	LicenseID int
}

func (e *SponsorshipNotFoundError) Error() string {
	return "The sponsorship license number " + strconv.Itoa(e.LicenseID) + " is not found"
}

// VerificationFailedError reports that a sponsorship verification key was
// rejected by the ledger.
type VerificationFailedError struct {
	Key string
}

func (e *VerificationFailedError) Error() string {
	return "The verification key used for accepting this sponsorship does not exist"
}

// SponsorshipRevokeError reports a failed attempt to revoke a user's
// sponsorship under a license.
type SponsorshipRevokeError struct {
	LicenseID int
	User      string
}

func (e *SponsorshipRevokeError) Error() string { return "user or licenseId not found" }

// MembershipRemovalError reports that the directory refused to remove a
// member from the organization.
type MembershipRemovalError struct {
	Org  string
	User string
}

func (e *MembershipRemovalError) Error() string { return "org or user not found" }

// AuthAction distinguishes what a caller was denied, which changes the
// notice text shown to them.
type AuthAction string

const (
	AuthActionAccess  AuthAction = "access"
	AuthActionView    AuthAction = "view"
	AuthActionRestart AuthAction = "restart"
)

// NotAuthorizedError reports that the caller lacks the role required for an
// access-gated action.
type NotAuthorizedError struct {
	User   string
	Action AuthAction
}

func (e *NotAuthorizedError) Error() string {
	switch e.Action {
	case AuthActionView:
		return fmt.Sprintf("%s does not have permission to view this page", e.User)
	case AuthActionRestart:
		return fmt.Sprintf("%s does not have permission to restart this organization", e.User)
	default:
		return "You are not authorized to access this page"
	}
}

// InvalidScopeNameError reports that an organization scope failed name
// validation before any remote call was made.
type InvalidScopeNameError struct {
	Scope string
}

func (e *InvalidScopeNameError) Error() string { return "Org Scope must be valid name" }

// UserMessage returns the notice text for err when it belongs to the
// taxonomy above, and fallback otherwise. Wrapped upstream errors never
// leak their internals to the user.
func UserMessage(err error, fallback string) string {
	var (
		userNotFound     *UserNotFoundError
		orgNotFound      *OrgNotFoundError
		noLicense        *NoLicenseError
		licenseExists    *LicenseAlreadyExistsError
		sponsorNotFound  *SponsorshipNotFoundError
		verifyFailed     *VerificationFailedError
		revokeFailed     *SponsorshipRevokeError
		removalFailed    *MembershipRemovalError
		notAuthorized    *NotAuthorizedError
		invalidScopeName *InvalidScopeNameError
	)
	switch {
	case errors.As(err, &userNotFound):
		return userNotFound.Error()
	case errors.As(err, &orgNotFound):
		return orgNotFound.Error()
	case errors.As(err, &noLicense):
		return noLicense.Error()
	case errors.As(err, &licenseExists):
		return licenseExists.Error()
	case errors.As(err, &sponsorNotFound):
		return sponsorNotFound.Error()
	case errors.As(err, &verifyFailed):
		return verifyFailed.Error()
	case errors.As(err, &revokeFailed):
		return revokeFailed.Error()
	case errors.As(err, &removalFailed):
		return removalFailed.Error()
	case errors.As(err, &notAuthorized):
		return notAuthorized.Error()
	case errors.As(err, &invalidScopeName):
		return invalidScopeName.Error()
	default:
		return fallback
	}
}
