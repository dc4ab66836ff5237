package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/auth"
)

// tokenCmd prints a staff bearer token signed with the configured secret.
func tokenCmd(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath, envFile := commonFlags(fs)
	user := fs.String("user", "", "staff user id (required)")
	name := fs.String("name", "", "display name")
	role := fs.String("role", auth.RoleStaff, "staff or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default staff.token_ttl)")
	fs.Parse(args)

	if *role != auth.RoleStaff && *role != auth.RoleAdmin {
		return fmt.Errorf("token: unknown role %q", *role)
	}
	if *user == "" {
		return errors.New("token: -user is required")
	}

	cfg, _, err := setup(*configPath, *envFile)
	if err != nil {
		return err
	}
	expiry := cfg.Staff.TokenTTL
	if *ttl > 0 {
		expiry = *ttl
	}

	tok, err := auth.GenerateToken([]byte(cfg.Staff.JWTSecret),
		&auth.Claims{UserID: *user, Username: *name, Role: *role}, expiry)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
