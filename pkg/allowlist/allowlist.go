// Package allowlist gates token issuance on a configured set of user
// emails. The check runs after user-info fetch and before any token is
// persisted; it never mutates state.
package allowlist

import "strings"

// Config is an immutable snapshot loaded once per provider instance.
type Config struct {
	Enabled      bool
	AllowedUsers map[string]struct{}
}

// Load parses a comma-separated list of emails into a Config. Emails
// are lower-cased so comparisons are case-insensitive.
func Load(enabled bool, allowedUsers string) Config {
	users := make(map[string]struct{})
	for _, u := range strings.Split(allowedUsers, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(u)); trimmed != "" {
			users[trimmed] = struct{}{}
		}
	}
	return Config{Enabled: enabled, AllowedUsers: users}
}

// IsAllowed reports whether the email may receive a token. A disabled
// allowlist admits everyone; an enabled one denies empty emails.
func (c Config) IsAllowed(email string) bool {
	if !c.Enabled {
		return true
	}
	if email == "" {
		return false
	}
	_, ok := c.AllowedUsers[strings.ToLower(email)]
	return ok
}

// Reason returns a human-readable denial reason for the given email.
func (c Config) Reason(email string) string {
	if email == "" {
		return "no email associated with this account"
	}
	return "user " + email + " is not on the allowlist"
}
