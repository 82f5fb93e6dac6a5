package provider

import (
	"regexp"
	"strings"
)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// CleanPhone strips the separators people type into phone numbers.
func CleanPhone(raw string) string {
	return phoneSeparators.Replace(strings.TrimSpace(raw))
}

// PhoneRule validates and normalises numbers for one national plan.
type PhoneRule struct {
	Pattern *regexp.Regexp
	// Format rewrites the nine significant digits into the provider's form.
	Format func(subscriber string) string
}

// Normalize returns the provider form of raw, or false if it does not match.
func (r PhoneRule) Normalize(raw string) (string, bool) {
	phone := CleanPhone(raw)
	if !r.Pattern.MatchString(phone) {
		return "", false
	}
	return r.Format(phone[len(phone)-9:]), true
}

var (
	// Ethiopia: +2519XXXXXXXX / 09XXXXXXXX (Ethio telecom), 07 (Safaricom ET).
	EthiopianPhone = PhoneRule{
		Pattern: regexp.MustCompile(`^(\+251|251|0)?[79]\d{8}$`),
		Format:  func(s string) string { return "0" + s },
	}
	// Kenya: +2547XXXXXXXX / 07XXXXXXXX / 01XXXXXXXX.
	KenyanPhone = PhoneRule{
		Pattern: regexp.MustCompile(`^(\+254|254|0)?[17]\d{8}$`),
		Format:  func(s string) string { return "254" + s },
	}
)
