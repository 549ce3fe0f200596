// Package route decides what each page request renders for a session snapshot.
package route

import (
	"github.com/snapquant/services/console-service/internal/session"
	"github.com/snapquant/services/shared/tier"
)

// Destination is a logical page.
type Destination string

const (
	Home      Destination = "/"
	Support   Destination = "/support"
	Login     Destination = "/login"
	Dashboard Destination = "/dashboard"
	Pricing   Destination = "/pricing"
)

// Destinations lists every page the guard knows about.
func Destinations() []Destination {
	return []Destination{Home, Support, Login, Dashboard, Pricing}
}

// ParseDestination maps a request path onto a Destination.
func ParseDestination(path string) (Destination, bool) {
	for _, d := range Destinations() {
		if string(d) == path {
			return d, true
		}
	}
	return "", false
}

// Gated reports whether d must wait for the session to resolve before rendering.
func (d Destination) Gated() bool {
	return d == Login || d == Dashboard
}

// Outcome is what the caller should do with a request.
type Outcome string

const (
	OutcomeRender   Outcome = "render"
	OutcomeRedirect Outcome = "redirect"
	OutcomeLoading  Outcome = "loading"
)

// PricingView carries the signed-in user's context into the pricing page.
type PricingView struct {
	ContactEmail string    `json:"contactEmail,omitempty"`
	ActiveTier   tier.Tier `json:"activeTier,omitempty"`
}

// Decision is the single outcome for one (snapshot, destination) pair.
type Decision struct {
	Destination Destination  `json:"destination"`
	Outcome     Outcome      `json:"outcome"`
	RedirectTo  Destination  `json:"redirectTo,omitempty"`
	Tier        tier.Tier    `json:"tier,omitempty"`
	Theme       tier.Theme   `json:"consoleTheme,omitempty"`
	Pricing     *PricingView `json:"pricing,omitempty"`
}

// Decide evaluates the guard table top to bottom; the first matching row wins.
func Decide(s session.Snapshot, d Destination) Decision {
	if d.Gated() && s.Loading() {
		return Decision{Destination: d, Outcome: OutcomeLoading}
	}

	switch d {
	case Login:
		if !s.SignedIn() {
			return render(d)
		}
		if s.Tier == tier.TierUnset {
			return redirect(d, Pricing)
		}
		return redirect(d, Dashboard)

	case Dashboard:
		if !s.SignedIn() {
			return redirect(d, Login)
		}
		if s.Tier == tier.TierUnset {
			return redirect(d, Pricing)
		}
		dec := render(d)
		dec.Tier = s.Tier
		dec.Theme = s.Theme
		return dec

	case Pricing:
		dec := render(d)
		if s.SignedIn() {
			dec.Pricing = &PricingView{ContactEmail: s.Identity.Email}
			if !s.TierLoading {
				dec.Pricing.ActiveTier = s.Tier
			}
		}
		return dec

	default:
		return render(d)
	}
}

func render(d Destination) Decision {
	return Decision{Destination: d, Outcome: OutcomeRender}
}

func redirect(from, to Destination) Decision {
	return Decision{Destination: from, Outcome: OutcomeRedirect, RedirectTo: to}
}
