package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/database"
	"github.com/bengobox/oauth2-provider/internal/logger"
	"github.com/bengobox/oauth2-provider/internal/password"
	"github.com/bengobox/oauth2-provider/internal/services/oauth"
	"github.com/bengobox/oauth2-provider/internal/store"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// oauth2-seed creates a demo user and a confidential client for exercising
// the authorization code flow by hand. Running it again reuses both.
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zapLogger, err := logger.New(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		zapLogger.Fatal("database connection", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.Driver); err != nil {
		zapLogger.Fatal("migrations", zap.Error(err))
	}

	username := envOr("SEED_USERNAME", "alice")
	pw := os.Getenv("SEED_PASSWORD")
	if pw == "" {
		pw = "wonderland"
		zapLogger.Warn("using default demo password - set SEED_PASSWORD outside development")
	}
	redirectURI := envOr("SEED_REDIRECT_URI", cfg.App.BaseURL+"/callback")

	st := store.New(db)
	user, err := ensureUser(ctx, st, password.NewHasher(cfg.Security), username, pw)
	if err != nil {
		zapLogger.Fatal("seed user", zap.Error(err))
	}

	client, err := ensureClient(ctx, st, oauth.New(oauth.Dependencies{
		Store:   st,
		Config:  cfg.Token,
		Auditor: audit.New(db, zapLogger),
		Logger:  zapLogger,
	}), user, redirectURI)
	if err != nil {
		zapLogger.Fatal("seed client", zap.Error(err))
	}

	fmt.Printf("username:      %s\n", user.Username)
	fmt.Printf("password:      %s\n", pw)
	fmt.Printf("client_id:     %s\n", client.ClientID)
	fmt.Printf("client_secret: %s\n", client.ClientSecret)
	fmt.Printf("redirect_uri:  %s\n", client.Metadata.RedirectURIs[0])
	fmt.Printf("authorize:     %s/oauth/authorize?response_type=code&client_id=%s&state=demo\n", cfg.App.BaseURL, client.ClientID)
}

func ensureUser(ctx context.Context, st *store.Store, hasher *password.Hasher, username, pw string) (*store.User, error) {
	user, err := st.Users.GetByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		return nil, err
	}
	return st.Users.Create(ctx, username, hash)
}

const demoClientName = "demo client"

func ensureClient(ctx context.Context, st *store.Store, svc *oauth.Service, user *store.User, redirectURI string) (*store.Client, error) {
	existing, err := st.Clients.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Metadata.ClientName == demoClientName {
			return &existing[i], nil
		}
	}
	return svc.RegisterClient(ctx, user.ID, oauth.ClientRegistration{
		ClientName:              demoClientName,
		GrantTypes:              []string{string(oauth.GrantAuthorizationCode), string(oauth.GrantRefreshToken), string(oauth.GrantClientCredentials)},
		RedirectURIs:            []string{redirectURI},
		ResponseTypes:           []string{oauth.ResponseTypeCode},
		Scope:                   "profile email",
		TokenEndpointAuthMethod: store.AuthMethodClientSecretBasic,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
