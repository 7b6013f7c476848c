package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UsersFileName is the file inside the config directory mapping user emails
// to the environment codes they may trigger runs against.
const UsersFileName = "users.json"

// User is one allow-list entry from users.json.
type User struct {
	Email        string   `json:"email"`
	Environments []string `json:"environments"`
}

// AccessPolicy is the immutable email -> environment allow-list, loaded once
// at startup. Email comparison is case-insensitive; an unknown email is
// denied everything.
type AccessPolicy struct {
	byEmail map[string]map[string]bool
}

// usersFile mirrors the on-disk shape of users.json.
type usersFile struct {
	Users []User `json:"users"`
}

// LoadUsers reads users.json from the config directory. A missing file
// yields an empty policy (everyone denied) rather than an error: the
// orchestrator can still serve read-only dashboards without any grants.
func LoadUsers(configDir string) (*AccessPolicy, error) {
	path := filepath.Join(configDir, UsersFileName)

	var parsed usersFile

	if err := decodeJSONFile(path, &parsed); err != nil {
		if os.IsNotExist(err) {
			return &AccessPolicy{byEmail: map[string]map[string]bool{}}, nil
		}

		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	policy := &AccessPolicy{byEmail: make(map[string]map[string]bool, len(parsed.Users))}

	for _, u := range parsed.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" {
			return nil, fmt.Errorf("config: %s contains a user with an empty email", path)
		}

		grants, ok := policy.byEmail[email]
		if !ok {
			grants = make(map[string]bool, len(u.Environments))
			policy.byEmail[email] = grants
		}

		for _, code := range u.Environments {
			grants[code] = true
		}
	}

	return policy, nil
}

// Allowed reports whether the given email may trigger runs against the given
// environment code. Unknown emails are denied.
func (p *AccessPolicy) Allowed(email, envCode string) bool {
	grants, ok := p.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return false
	}

	return grants[envCode]
}

// KnownUser reports whether the email appears in the allow-list at all.
// Used to distinguish "no such user" from "user lacks this environment"
// in log messages; the HTTP response is 403 either way.
func (p *AccessPolicy) KnownUser(email string) bool {
	_, ok := p.byEmail[strings.ToLower(strings.TrimSpace(email))]

	return ok
}
