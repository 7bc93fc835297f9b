package payout

import "homeclean/models"

// Environment decides where transfer funds come from. In live mode a transfer
// is funded by the reservation's own charge; in test mode by the platform's
// available test balance, since test charges settle asynchronously.
type Environment struct {
	Name string
	live bool
}

var (
	Live = Environment{Name: "live", live: true}
	Test = Environment{Name: "test"}
)

// EnvironmentFor maps STRIPE_MODE onto an Environment. Anything but "live" is test.
func EnvironmentFor(mode string) Environment {
	if mode == "live" {
		return Live
	}
	return Test
}

func (e Environment) IsLive() bool {
	return e.live
}

// SourceTransaction returns the charge to fund r's payout from, or "" to draw
// on the balance.
func (e Environment) SourceTransaction(r *models.Reservation) string {
	if !e.live {
		return ""
	}
	return r.PaymentSecurity.ClientPaymentID
}
