package payment

import (
	"context"
	"net/netip"

	"paycore/internal/services/mpesa"
)

type Verdict int

const (
	// VerdictTrusted means the event came from a provider-owned range.
	VerdictTrusted Verdict = iota
	// VerdictConfirmed means a re-query confirmed the success.
	VerdictConfirmed
	// VerdictDeclined means the re-query reported the payment failed.
	VerdictDeclined
	// VerdictUnconfirmed means the success could not be confirmed.
	VerdictUnconfirmed
)

func (v Verdict) Honored() bool {
	return v == VerdictTrusted || v == VerdictConfirmed
}

// Verifier decides whether a success claim may be honored. Claims from
// outside the trusted ranges are re-queried with the provider.
type Verifier struct {
	trusted []netip.Prefix
	querier Querier
}

func NewVerifier(trusted []netip.Prefix, querier Querier) *Verifier {
	return &Verifier{trusted: trusted, querier: querier}
}

// Trusted reports whether ip falls inside a provider-owned range.
func (v *Verifier) Trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range v.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Verify returns the verdict for a success claim and, when not honored, a
// reason.
func (v *Verifier) Verify(ctx context.Context, checkoutRequestID, sourceIP string) (Verdict, string) {
	if v.Trusted(sourceIP) {
		return VerdictTrusted, ""
	}
	res, err := v.querier.STKQuery(ctx, checkoutRequestID)
	if err != nil {
		return VerdictUnconfirmed, "status query failed: " + err.Error()
	}
	switch res.Status {
	case mpesa.QueryCompleted:
		return VerdictConfirmed, ""
	case mpesa.QueryFailed:
		return VerdictDeclined, res.Reason
	default:
		return VerdictUnconfirmed, "provider reports payment still pending"
	}
}
