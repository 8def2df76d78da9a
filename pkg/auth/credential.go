// Package auth holds the bearer credential the sync engine presents to the
// history, action and push endpoints. The credential is issued by the session
// layer (login screen) and stored next to the config file.
package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredential is returned when no stored credential exists.
var ErrNoCredential = errors.New("no stored credential; run 'anthra-sync auth login'")

type AuthCredential struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id,omitempty"`
	AuthMethod  string    `json:"auth_method"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenSource exposes the credential as an oauth2 token source, so HTTP
// clients pick up the bearer header through the standard transport.
func (c *AuthCredential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken})
}

func credentialPath(dir string) string {
	return filepath.Join(dir, "credential.json")
}

// SaveCredential writes the credential with owner-only permissions.
func SaveCredential(dir string, cred *AuthCredential) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(credentialPath(dir), data, 0o600)
}

// LoadCredential reads a previously stored credential.
func LoadCredential(dir string) (*AuthCredential, error) {
	data, err := os.ReadFile(credentialPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredential
		}
		return nil, err
	}
	var cred AuthCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, err
	}
	if cred.AccessToken == "" {
		return nil, ErrNoCredential
	}
	return &cred, nil
}
