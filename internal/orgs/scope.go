package orgs

// MaxScopeLength bounds organization scope names.
const MaxScopeLength = 64

// ValidScopeName reports whether scope is an acceptable organization scope
// name. Scope names are lowercase URL-safe slugs: letters, digits, hyphens,
// underscores, and dots, not starting with a dot or underscore. Every remote
// operation validates the scope before issuing any upstream call.
func ValidScopeName(scope string) bool {
	if scope == "" || len(scope) > MaxScopeLength {
		return false
	}
	if scope[0] == '.' || scope[0] == '_' || scope[0] == '-' {
		return false
	}
	for i := 0; i < len(scope); i++ {
		c := scope[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
