package models

import (
	"strings"
	"time"
)

// Provider represents an OpenAI-compatible chat completion endpoint
type Provider struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	BaseURL         string    `db:"base_url" json:"base_url"`
	EncryptedAPIKey string    `db:"encrypted_api_key" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`

	// Decrypted in the storage layer, never persisted in plaintext
	APIKey string `db:"-" json:"-"`
}

// HasAPIKey reports whether the provider carries a bearer credential
func (p *Provider) HasAPIKey() bool {
	return p.APIKey != "" || p.EncryptedAPIKey != ""
}

// Endpoint returns the base URL without a trailing slash
func (p *Provider) Endpoint() string {
	return strings.TrimRight(p.BaseURL, "/")
}
