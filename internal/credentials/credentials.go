package credentials

import "strings"

// Placeholder is the masked value shown in place of a secret. A persisted
// field equal to it means the stored set was overwritten by a masked copy.
const Placeholder = "***"

const minIDLength = 21

// Set is the four provider values needed to mint a token and route a call.
type Set struct {
	AccountID     string `json:"accountId"`
	APIKeyID      string `json:"apiKeyId"`
	APIKeySecret  string `json:"apiKeySecret"`
	ApplicationID string `json:"applicationId"`
}

// Complete reports whether all four fields are non-empty.
func (s Set) Complete() bool {
	return s.AccountID != "" && s.APIKeyID != "" && s.APIKeySecret != "" && s.ApplicationID != ""
}

// HasPlaceholder reports whether any field holds the masked sentinel.
func (s Set) HasPlaceholder() bool {
	return s.AccountID == Placeholder ||
		s.APIKeyID == Placeholder ||
		s.APIKeySecret == Placeholder ||
		s.ApplicationID == Placeholder
}

// Masked returns a copy safe for logs and the UI.
func (s Set) Masked() Set {
	out := s
	if out.APIKeySecret != "" {
		out.APIKeySecret = Placeholder
	}
	return out
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (s Set) Trimmed() Set {
	return Set{
		AccountID:     strings.TrimSpace(s.AccountID),
		APIKeyID:      strings.TrimSpace(s.APIKeyID),
		APIKeySecret:  strings.TrimSpace(s.APIKeySecret),
		ApplicationID: strings.TrimSpace(s.ApplicationID),
	}
}

// ValidateFormat applies the provider identifier conventions: account ids
// start with AC, API key ids with SK, application ids with AP, and each is
// longer than 20 characters. The secret only has to be present.
func ValidateFormat(s Set) bool {
	if !s.Complete() {
		return false
	}
	return validID(s.AccountID, "AC") &&
		validID(s.APIKeyID, "SK") &&
		validID(s.ApplicationID, "AP")
}

func validID(v, prefix string) bool {
	return strings.HasPrefix(v, prefix) && len(v) >= minIDLength
}
