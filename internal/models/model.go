package models

// Model is a named completion target hosted by a Provider.
// ModelID is the provider-side identifier (e.g. "gpt-4o-mini"),
// Name is what users see.
type Model struct {
	ID          int64  `db:"id" json:"id"`
	ProviderID  int64  `db:"provider_id" json:"provider_id"`
	ModelID     string `db:"model_id" json:"model_id"`
	Name        string `db:"name" json:"name"`
	IsReasoning bool   `db:"is_reasoning" json:"is_reasoning"`
	Enabled     bool   `db:"enabled" json:"enabled"`
}

// DisplayName returns Name, or the provider-side id when no name was set
func (m *Model) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ModelID
}
