package agent

import (
	"fmt"
	"strings"
	"time"
)

// LeadKey derives the deduplication key for a lead: the lowercased email
// plus the ISO year and week of at, e.g. "cto@acme.com_202542". The key is
// stable within one ISO week and changes at the week boundary.
func LeadKey(email string, at time.Time) string {
	year, week := at.UTC().ISOWeek()
	return fmt.Sprintf("%s_%d%02d", strings.ToLower(strings.TrimSpace(email)), year, week)
}
