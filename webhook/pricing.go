package webhook

import "github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"

// Rates maps a provider pricing category to the cost of one message.
// Unknown categories cost nothing.
type Rates map[string]float64

// DefaultRates are the per-message estimates used when none are configured.
func DefaultRates() Rates {
	return Rates{
		"marketing":      0.0175,
		"utility":        0.0075,
		"authentication": 0.005,
		"service":        0,
	}
}

// Cost returns the estimated cost of a message priced as p.
func (r Rates) Cost(p whatsapp.Pricing) float64 {
	if !p.Billable {
		return 0
	}
	return r[p.Category]
}
