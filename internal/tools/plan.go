package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/leadgate/leadgate/pkg/models"
)

// FollowupPlan is the task prescribed for a tier and segment.
type FollowupPlan struct {
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	DueOffset time.Duration   `json:"due_offset"`
	Priority  models.Priority `json:"priority"`
}

type planKey struct {
	tier    models.Tier
	segment models.Segment // empty matches any segment
}

const day = 24 * time.Hour

var plans = map[planKey]FollowupPlan{
	{tier: models.TierNeedsInfo}: {"request_info", "Request missing information from lead", 4 * time.Hour, models.PriorityHigh},
	{tier: models.TierReject}:    {"review_reject", "Review rejected lead decision", day, models.PriorityLow},
	{tier: models.TierNurture}:   {"nurture_outreach", "Send nurture email sequence", 3 * day, models.PriorityMedium},

	{models.TierQualified, models.SegmentSMB}:        {"schedule_call", "Schedule discovery call with qualified lead", day, models.PriorityHigh},
	{models.TierQualified, models.SegmentEnterprise}: {"prepare_proposal", "Prepare enterprise proposal and schedule call", day, models.PriorityUrgent},
}

// PlanFor returns the follow-up plan for tier and segment. Only the
// qualified tier is split by segment; unknown combinations get the nurture
// plan.
func PlanFor(tier models.Tier, segment models.Segment) FollowupPlan {
	key := planKey{tier: tier}
	if tier == models.TierQualified {
		key.segment = segment
	}
	if p, ok := plans[key]; ok {
		return p
	}
	return plans[planKey{tier: models.TierNurture}]
}

// Email template types.
const (
	TemplateNurture   = "nurture"
	TemplateQualified = "qualified"
	TemplateNeedsInfo = "needs_info"
)

// TemplateFor maps a tier to its email template. Rejected leads get the
// nurture template.
func TemplateFor(tier models.Tier) string {
	switch tier {
	case models.TierQualified:
		return TemplateQualified
	case models.TierNeedsInfo:
		return TemplateNeedsInfo
	default:
		return TemplateNurture
	}
}

var missingQuestions = map[string]string{
	models.FieldNeed:     "- What challenge are you hoping to solve?",
	models.FieldTimeline: "- When are you hoping to have this up and running?",
	models.FieldCompany:  "- What company are you with?",
	"budget":             "- Do you have a budget range in mind?",
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func renderEmail(lead models.Lead, res models.ScoreResult, templateType string) (subject, body string) {
	switch templateType {
	case TemplateQualified:
		subject = fmt.Sprintf("Quick chat about %s's needs?", lead.Company)
		body = fmt.Sprintf(`Hi,

Thanks for reaching out about %s. Based on your timeline of %s, I'd love to learn more about your goals.

Would any of these times work for a quick 15-minute call?
- [TIME_SLOT_1]
- [TIME_SLOT_2]
- [TIME_SLOT_3]

Or feel free to grab a time here: [CALENDAR_LINK]

Looking forward to connecting!

Best,
[SENDER_NAME]`, orDefault(lead.Need, "your project"), orDefault(lead.Timeline, "the near future"))

	case TemplateNeedsInfo:
		qs := make([]string, 0, len(res.MissingFields))
		for _, f := range res.MissingFields {
			q, ok := missingQuestions[f]
			if !ok {
				q = fmt.Sprintf("- Could you tell me more about %s?", f)
			}
			qs = append(qs, q)
		}
		subject = fmt.Sprintf("Quick question for %s", orDefault(lead.Company, "you"))
		body = fmt.Sprintf(`Hi,

Thanks for reaching out! To make sure I can point you in the right direction, could you share a bit more about:

%s

This will help me understand how we can best help.

Thanks!
[SENDER_NAME]`, strings.Join(qs, "\n"))

	default:
		subject = fmt.Sprintf("Helpful resources for %s", lead.Company)
		body = fmt.Sprintf(`Hi,

Thanks for your interest! Based on what you shared about %s, I thought you might find our guide helpful.

[RESOURCE_LINK]

No pressure to chat now - just wanted to share something useful. Feel free to reach out when the timing is right.

Best,
[SENDER_NAME]`, orDefault(lead.Need, "your needs"))
	}
	return subject, body
}
