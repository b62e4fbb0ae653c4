package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/keyhandoff/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	Username    string    `json:"username"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "keyhandoff")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keyhandoff")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func defaultKeysDir() string { return filepath.Join(cfgDir(), "keys") }

func saveToken(username, tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{Username: username, AccessToken: tok, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

// rememberSession stores the provider session for later bearer calls.
func rememberSession(sess model.ProviderSession) error {
	if err := saveToken(sess.Username, sess.AccessToken, sess.ExpiresAt); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func loadToken(username string, now time.Time) (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || tf.Username != username || now.After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}
