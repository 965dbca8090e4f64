package contracts

// Identity is the authenticated caller of the HTTP API. Approval decisions
// record Subject as decided_by when the request does not name a reviewer.
type Identity struct {
	// Subject is a stable, non-secret identifier (e.g. "apikey:1f2e3d4c5b6a7988").
	Subject string `json:"subject"`

	// Provider identifies how the caller authenticated ("apikey").
	Provider string `json:"provider"`
}
