package apikey

import "fmt"

const (
	ScopeScanFile     = "scan:file"
	ScopeScanURL      = "scan:url"
	ScopeReportsRead  = "reports:read"
	ScopeReportsWrite = "reports:write"
	ScopeAdmin        = "admin"
)

// AllScopes lists every grantable scope.
var AllScopes = []string{
	ScopeScanFile,
	ScopeScanURL,
	ScopeReportsRead,
	ScopeReportsWrite,
	ScopeAdmin,
}

var validScopes = func() map[string]bool {
	m := make(map[string]bool, len(AllScopes))
	for _, s := range AllScopes {
		m[s] = true
	}
	return m
}()

// ValidateScopes rejects an empty set or any unknown scope.
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("%w: at least one scope is required", ErrInvalidScope)
	}
	var invalid []string
	for _, s := range scopes {
		if !validScopes[s] {
			invalid = append(invalid, s)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidScope, invalid)
	}
	return nil
}

// HasScope reports whether granted includes required. The admin scope
// implies every other scope.
func HasScope(granted []string, required string) bool {
	for _, s := range granted {
		if s == required || s == ScopeAdmin {
			return true
		}
	}
	return false
}
