// Command auctiontoken mints a bearer token for local testing. It reads the
// same configuration as auctiond, so the token verifies against a server
// started with that configuration.
//
//	auctiontoken -config config.toml -user 7
//	auctiontoken -user 1 -role admin
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/identity"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (empty for defaults and environment only)")
	userID := flag.Int64("user", 0, "user id to put in the token subject")
	role := flag.String("role", string(domain.RoleUser), "role claim: user or admin")
	flag.Parse()

	if err := run(*configPath, *userID, domain.Role(*role)); err != nil {
		fmt.Fprintf(os.Stderr, "auctiontoken: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, userID int64, role domain.Role) error {
	if userID <= 0 {
		return fmt.Errorf("-user must be a positive id")
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tokens, err := identity.New(identity.Config{
		Secret: cfg.Auth.Secret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TTL.Duration,
	})
	if err != nil {
		return err
	}

	token, expires, err := tokens.Issue(userID, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format("2006-01-02 15:04:05 MST"))
	return nil
}
