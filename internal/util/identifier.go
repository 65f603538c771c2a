package util

import (
	"strings"
	"unicode"
)

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsEmail is a cheap shape check; full validation happens at the HTTP edge.
func IsEmail(identifier string) bool {
	at := strings.IndexByte(identifier, '@')
	return at > 0 && at < len(identifier)-1
}

// NormalizeIdentifier picks the email or phone normalization by shape.
func NormalizeIdentifier(identifier string) string {
	if IsEmail(identifier) {
		return NormalizeEmail(identifier)
	}
	return NormalizePhone(identifier)
}

// MaskIdentifier hides most of an email or phone number for logs.
func MaskIdentifier(identifier string) string {
	if at := strings.IndexByte(identifier, '@'); at > 0 {
		return identifier[:1] + "***" + identifier[at:]
	}
	if len(identifier) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(identifier)-4) + identifier[len(identifier)-4:]
}

// ContainsSuspicious reports markup or template characters in free text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "{{", "javascript:", "onerror=", "onload="} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
