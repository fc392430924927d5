// Command issue-token prints a bearer token for local testing.
//
//	JWT_SECRET=... go run ./cmd/issue-token -user 3f0c...-... -role admin -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/DukeRupert/plangate/internal/auth"
	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func run() error {
	_ = godotenv.Load()

	user := flag.String("user", "", "user UUID (generated when empty)")
	role := flag.String("role", string(domain.RoleMember), "member or admin")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	issuer := flag.String("issuer", envOr("JWT_ISSUER", "plangate"), "token issuer")
	flag.Parse()

	tokens, err := auth.NewTokens(os.Getenv("JWT_SECRET"), *issuer)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}

	id := uuid.New()
	if *user != "" {
		if id, err = uuid.Parse(*user); err != nil {
			return fmt.Errorf("invalid -user: %w", err)
		}
	}

	r := domain.Role(*role)
	if r != domain.RoleMember && r != domain.RoleAdmin {
		return fmt.Errorf("invalid -role %q", *role)
	}

	token, err := tokens.Issue(domain.Identity{UserID: id, Role: r}, *ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "user=%s role=%s expires=%s\n", id, r, time.Now().Add(*ttl).UTC().Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
