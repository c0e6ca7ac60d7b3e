package billing

import "github.com/sakif/proservice/internal/model"

// GrantsPro maps a subscription status to the entitlement flag. known is
// false for statuses this version does not recognise; those fail closed.
//
// past_due keeps access while the provider retries the payment. unpaid is
// the state after retries are exhausted and does not.
func GrantsPro(status string) (grant, known bool) {
	switch status {
	case "active", "trialing", "past_due":
		return true, true
	case "canceled", "unpaid", "paused", "incomplete", "incomplete_expired":
		return false, true
	default:
		return false, false
	}
}

// StatusRank orders subscription statuses for updates stamped in the same
// second. incomplete is where every new subscription starts before its first
// invoice is paid, so it never overrides a confirmed payment.
func StatusRank(status string) model.EntitlementRank {
	switch status {
	case "active", "trialing", "past_due":
		return model.RankActive
	case "canceled", "unpaid", "paused", "incomplete_expired":
		return model.RankTerminal
	default:
		return model.RankPending
	}
}
