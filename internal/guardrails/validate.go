package guardrails

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/leadgate/leadgate/pkg/models"
)

// ── Field limits ────────────────────────────────────────────

const (
	maxEmailLen    = 254
	minCompanyLen  = 2
	maxCompanyLen  = 200
	maxNeedLen     = 2000
	maxTimelineLen = 200
	maxBudgetLen   = 100
	maxTitleLen    = 100
	maxIndustryLen = 100
	maxCompanySize = 10_000_000
)

// ValidateLead checks field formats and limits. Absent required fields are
// not validation errors; the scorer reports them as needs_info.
func ValidateLead(lead models.Lead) error {
	var errs models.ValidationErrors
	add := func(field, reason string) {
		errs = append(errs, models.ValidationError{Field: field, Reason: reason})
	}

	if lead.Email != "" {
		switch {
		case utf8.RuneCountInString(lead.Email) > maxEmailLen:
			add(models.FieldEmail, "email address too long")
		case containsSuspicious(lead.Email):
			add(models.FieldEmail, "email contains suspicious patterns")
		case !validEmail(lead.Email):
			add(models.FieldEmail, "invalid email address")
		}
	}

	if lead.Company != "" {
		n := utf8.RuneCountInString(lead.Company)
		switch {
		case n < minCompanyLen:
			add(models.FieldCompany, "company name too short")
		case n > maxCompanyLen:
			add(models.FieldCompany, "company name too long")
		case containsSuspicious(lead.Company):
			add(models.FieldCompany, "company name contains suspicious patterns")
		}
	}

	if lead.Need != "" {
		switch {
		case utf8.RuneCountInString(lead.Need) > maxNeedLen:
			add(models.FieldNeed, "need description too long")
		case DetectInjection(lead.Need):
			add(models.FieldNeed, "need contains potential prompt injection")
		}
	}

	checkLen := func(field, v string, max int) {
		if utf8.RuneCountInString(v) > max {
			add(field, field+" too long")
		}
	}
	checkLen(models.FieldTimeline, lead.Timeline, maxTimelineLen)
	checkLen("budget", lead.Budget, maxBudgetLen)
	checkLen("title", lead.Title, maxTitleLen)
	checkLen("industry", lead.Industry, maxIndustryLen)

	if lead.CompanySize != nil {
		switch n := *lead.CompanySize; {
		case n < 1:
			add("company_size", "company size must be positive")
		case n > maxCompanySize:
			add("company_size", "company size seems unrealistic")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validEmail accepts a bare address (no display name) with a dotted domain.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// ── Sanitization ────────────────────────────────────────────

var (
	htmlTag      = regexp.MustCompile(`<[^>]+>`)
	longSpace    = regexp.MustCompile(`\s{3,}`)
	controlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
)

// SanitizeText strips HTML tags and control characters (newline and tab are
// kept), collapses runs of three or more whitespace characters to two
// spaces, and trims.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	s = htmlTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = longSpace.ReplaceAllString(s, "  ")
	s = controlChars.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// SanitizeLead applies SanitizeText to every free-text field. The email is
// only trimmed.
func SanitizeLead(lead models.Lead) models.Lead {
	lead.Email = strings.TrimSpace(lead.Email)
	lead.Company = SanitizeText(lead.Company)
	lead.Need = SanitizeText(lead.Need)
	lead.Timeline = SanitizeText(lead.Timeline)
	lead.Budget = SanitizeText(lead.Budget)
	lead.Title = SanitizeText(lead.Title)
	lead.Industry = SanitizeText(lead.Industry)
	return lead
}

// ── Pattern detection ───────────────────────────────────────

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on(click|error|load|mouseover)\s*=`),
	regexp.MustCompile(`\x00`),
	regexp.MustCompile(`(?i)&#x`),
}

func containsSuspicious(s string) bool {
	for _, re := range suspiciousPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)`),
	regexp.MustCompile(`(?i)forget\s+(everything|(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context))`),
	regexp.MustCompile(`(?i)you\s+are\s+now\b`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s+prompt\s*:|^\s*system\s*:`),
	regexp.MustCompile(`(?i)</?(system|user|assistant)>`),
	regexp.MustCompile(`(?i)\[INST\]|<<SYS>>`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
}

// DetectInjection reports whether s looks like an attempt to steer the
// scoring model.
func DetectInjection(s string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
