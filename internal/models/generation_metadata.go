package models

// GenerationMetadata records which model produced an assistant message and
// how fast it did so. Numeric fields are nil when the call failed or the
// provider did not report them.
type GenerationMetadata struct {
	ID                int64    `db:"id" json:"id"`
	MessageID         int64    `db:"message_id" json:"message_id"`
	ModelID           int64    `db:"model_id" json:"model_id"`
	TimeToFirstToken  *float64 `db:"time_to_first_token" json:"time_to_first_token"`
	TokensPerSecond   *float64 `db:"tokens_per_second" json:"tokens_per_second"`
	OutputTokens      *int     `db:"output_tokens" json:"output_tokens"`
	InputTokens       *int     `db:"input_tokens" json:"input_tokens"`
	CachedInputTokens *int     `db:"cached_input_tokens" json:"cached_input_tokens"`
}
