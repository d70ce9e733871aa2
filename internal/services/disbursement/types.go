package disbursement

// ResultEvent is the asynchronous outcome of a phone payment.
type ResultEvent struct {
	ConversationID           string
	OriginatorConversationID string
	Succeeded                bool
	ResultCode               int
	ResultDesc               string
	Receipt                  string
	SourceIP                 string
}

type ResultOutcome string

const (
	OutcomeApplied            ResultOutcome = "applied"
	OutcomeIgnored            ResultOutcome = "ignored"
	OutcomeRejectedUnverified ResultOutcome = "rejected_unverified"
)
