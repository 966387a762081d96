package orgs

// Pricing computes the displayed monthly charge for a paid organization.
// Billing is per seat with a floor: an organization pays for at least
// MinSeats seats even when fewer sponsorships are active.
type Pricing struct {
	PerSeat  int
	MinSeats int
}

// DefaultPricing matches the paid-org-7 plan: $7 per seat, two-seat minimum.
var DefaultPricing = Pricing{PerSeat: 7, MinSeats: 2}

// Price returns the monthly charge in whole currency units for the given
// number of active sponsorships.
func (p Pricing) Price(activeSponsorships int) int {
	seats := activeSponsorships
	if seats < p.MinSeats {
		seats = p.MinSeats
	}
	return p.PerSeat * seats
}
