package model

import (
	"regexp"
	"strings"
	"time"
)

const (
	panLength      = 10
	maxDOBLen      = 32
	maxAddressLen  = 512
	maxDocumentLen = 2 << 20
)

var (
	panPattern       = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	panStrip         = regexp.MustCompile(`[^A-Z0-9]`)
	nameInvalidChars = regexp.MustCompile(`[^A-Z0-9\s./-]`)
)

// Document payloads arrive as data URLs produced by the browser client.
var allowedDocumentPrefixes = []string{
	"data:image/",
	"data:application/pdf",
}

// ProfileDetails is the optional PAN-card metadata a customer attaches at
// registration. Fields are prefilled client-side by the extraction service;
// this server only sanitizes and stores them until verification completes.
type ProfileDetails struct {
	PANNumber  string `json:"panNumber,omitempty"`
	Name       string `json:"name,omitempty"`
	FatherName string `json:"fatherName,omitempty"`
	DOB        string `json:"dob,omitempty"`
	Address    string `json:"address,omitempty"`
	Document   string `json:"document,omitempty"`
}

// Sanitize normalizes all fields in place. Values that fail validation are
// dropped rather than rejected, registration succeeds with whatever
// survives.
func (d *ProfileDetails) Sanitize() {
	d.PANNumber = NormalizePAN(d.PANNumber)
	d.Name = NormalizeHolderName(d.Name)
	d.FatherName = NormalizeHolderName(d.FatherName)
	d.DOB = NormalizeDOB(d.DOB)
	d.Address = normalizeAddress(d.Address)
	d.Document = sanitizeDocument(d.Document)
}

// NormalizePAN uppercases, strips everything outside A-Z0-9 and validates
// the canonical 5-letters 4-digits 1-letter shape. Invalid values become "".
func NormalizePAN(value string) string {
	if value == "" {
		return ""
	}
	cleaned := panStrip.ReplaceAllString(strings.ToUpper(value), "")
	if len(cleaned) > panLength {
		cleaned = cleaned[:panLength]
	}
	if !panPattern.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// NormalizeHolderName strips characters that never occur on a PAN card,
// collapses whitespace and title-cases each word.
func NormalizeHolderName(value string) string {
	if value == "" {
		return ""
	}
	cleaned := nameInvalidChars.ReplaceAllString(strings.ToUpper(value), " ")
	parts := strings.Fields(cleaned)
	if len(parts) == 0 {
		return ""
	}
	for i, part := range parts {
		parts[i] = part[:1] + strings.ToLower(part[1:])
	}
	name := strings.Join(parts, " ")
	if len(name) > maxDisplayNameLen {
		name = strings.TrimSpace(name[:maxDisplayNameLen])
	}
	return name
}

var dobLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02/01/06",
	"02-01-06",
}

// NormalizeDOB converts the usual day-first spellings to ISO YYYY-MM-DD.
// Unparseable values are kept verbatim (capped) so the employee can still
// eyeball them during verification.
func NormalizeDOB(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range dobLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	if len(value) > maxDOBLen {
		value = value[:maxDOBLen]
	}
	return value
}

func normalizeAddress(value string) string {
	lines := strings.Split(strings.ReplaceAll(value, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	addr := strings.Join(kept, "\n")
	if len(addr) > maxAddressLen {
		addr = strings.TrimSpace(addr[:maxAddressLen])
	}
	return addr
}

func sanitizeDocument(value string) string {
	if value == "" || len(value) > maxDocumentLen {
		return ""
	}
	for _, prefix := range allowedDocumentPrefixes {
		if strings.HasPrefix(value, prefix) {
			return value
		}
	}
	return ""
}
