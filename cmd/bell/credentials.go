package main

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "bizdash-bell"

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/bizdash/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("bizdash-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// sessionKey scopes a stored token to the server it was issued by.
func sessionKey(baseURL string) string {
	return "session:" + baseURL
}

func loadToken(baseURL string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(sessionKey(baseURL))
	if err != nil {
		return "", fmt.Errorf("reading stored session: %w", err)
	}
	return string(item.Data), nil
}

func saveToken(baseURL, token string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	err = ring.Set(keyring.Item{
		Key:         sessionKey(baseURL),
		Data:        []byte(token),
		Label:       "bizdash session",
		Description: baseURL,
	})
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}
