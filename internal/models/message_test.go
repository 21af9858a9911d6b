package models

import (
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Role
		wantErr bool
	}{
		{"user", "user", RoleUser, false},
		{"assistant", "assistant", RoleAssistant, false},
		{"system is not storable", "system", "", true},
		{"empty", "", "", true},
		{"case sensitive", "User", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMessage_ProducedBy(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		GenerationMetadata: []GenerationMetadata{
			{ID: 1, ModelID: 7},
		},
	}

	if !msg.ProducedBy(7) {
		t.Error("ProducedBy(7) = false, want true")
	}
	if msg.ProducedBy(8) {
		t.Error("ProducedBy(8) = true, want false")
	}

	meta, ok := msg.Producer()
	if !ok || meta.ModelID != 7 {
		t.Errorf("Producer() = %v, %v, want model 7", meta, ok)
	}

	var bare Message
	if _, ok := bare.Producer(); ok {
		t.Error("Producer() on message without metadata should report false")
	}
}

func TestConversation_ApplyDefaults(t *testing.T) {
	c := &Conversation{}
	c.ApplyDefaults()
	if c.Title != DefaultConversationTitle {
		t.Errorf("Title = %q, want %q", c.Title, DefaultConversationTitle)
	}
	if c.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("SystemPrompt = %q, want %q", c.SystemPrompt, DefaultSystemPrompt)
	}

	custom := &Conversation{Title: "Math", SystemPrompt: "Be terse."}
	custom.ApplyDefaults()
	if custom.Title != "Math" || custom.SystemPrompt != "Be terse." {
		t.Errorf("ApplyDefaults overwrote explicit values: %+v", custom)
	}
}

func TestProvider_Endpoint(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{"http://localhost:11434/v1//", "http://localhost:11434/v1"},
	}
	for _, tt := range tests {
		p := &Provider{BaseURL: tt.baseURL}
		if got := p.Endpoint(); got != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.baseURL, got, tt.want)
		}
	}
}

func TestModel_DisplayName(t *testing.T) {
	if got := (&Model{ModelID: "gpt-4o", Name: "GPT-4o"}).DisplayName(); got != "GPT-4o" {
		t.Errorf("DisplayName() = %q, want GPT-4o", got)
	}
	if got := (&Model{ModelID: "gpt-4o"}).DisplayName(); got != "gpt-4o" {
		t.Errorf("DisplayName() = %q, want gpt-4o", got)
	}
}
