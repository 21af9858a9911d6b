package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"llm_evaluator/internal/config"
	"llm_evaluator/internal/models"
	"llm_evaluator/internal/providers"
	"llm_evaluator/internal/storage"
)

// init-provider registers one OpenAI-compatible provider and imports its
// model catalogue. Running it again only adds models that are missing.
func main() {
	fmt.Println("LLM Evaluator - Provider Initialization")
	fmt.Println(strings.Repeat("=", 48))

	// Load configuration (primarily for database connection)
	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}

	name := strings.TrimSpace(os.Getenv("PROVIDER_NAME"))
	baseURL := strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	apiKey := os.Getenv("PROVIDER_API_KEY")

	if name == "" || baseURL == "" {
		fail("PROVIDER_NAME and PROVIDER_BASE_URL must be set")
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		fail("%v", err)
	}
	encryption, err := storage.NewEncryption(key)
	if err != nil {
		fail("Failed to initialize encryption: %v", err)
	}

	fmt.Println("Connecting to database...")
	dbConfig := storage.DefaultDBConfig()
	dbConfig.URL = cfg.Database.URL
	dbConfig.MaxOpenConns = 2
	dbConfig.MaxIdleConns = 1

	db, err := storage.NewDB(dbConfig, encryption)
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			fail("Failed to apply migrations: %v", err)
		}
	}
	fmt.Println("Database connection established")

	repo := db.NewProviderRepository()
	provider := &models.Provider{Name: name, BaseURL: baseURL, APIKey: apiKey}
	switch err := repo.Create(ctx, provider); {
	case err == nil:
		fmt.Printf("Created provider %s (id %d)\n", provider.Name, provider.ID)
	case errors.Is(err, storage.ErrProviderExists):
		existing, lookupErr := findProvider(ctx, repo, name)
		if lookupErr != nil {
			fail("Failed to look up existing provider: %v", lookupErr)
		}
		provider = existing
		fmt.Printf("INFO: Provider %s already exists (id %d), syncing models only\n", provider.Name, provider.ID)
	default:
		fail("Failed to create provider: %v", err)
	}

	client := providers.NewOpenAIClient(providers.DefaultClientConfig())
	defer client.Close()

	fmt.Printf("Fetching models from %s...\n", provider.Endpoint())
	ids, err := client.ListModels(ctx, providers.Target{BaseURL: provider.Endpoint(), APIKey: provider.APIKey})
	if err != nil {
		fail("Failed to fetch models: %v", err)
	}

	added, err := db.NewModelRepository().AddMissing(ctx, provider.ID, ids)
	if err != nil {
		fail("Failed to register models: %v", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 48))
	fmt.Printf("SUCCESS: %d of %d model(s) added for provider %s\n", added, len(ids), provider.Name)
	fmt.Println(strings.Repeat("=", 48))
}

// findProvider pages through providers looking for name
func findProvider(ctx context.Context, repo *storage.ProviderRepository, name string) (*models.Provider, error) {
	page := storage.Page{Limit: 100}
	for {
		list, err := repo.List(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			if p.Name == name {
				return repo.GetByID(ctx, p.ID)
			}
		}
		if len(list) < page.Limit {
			return nil, fmt.Errorf("provider %q: %w", name, storage.ErrProviderNotFound)
		}
		page.Skip += page.Limit
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
