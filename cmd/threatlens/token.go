package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"threatlens/internal/server"
	"threatlens/pkg/config"
	"threatlens/pkg/validation"
)

type tokenOptions struct {
	subject string
	tenant  string
	admin   bool
	ttl     time.Duration
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			tok, err := opts.issue(server.AuthConfig{
				Secret:   []byte(cfg.Auth.JWTSecret),
				Issuer:   cfg.Auth.Issuer,
				Audience: cfg.Auth.Audience,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.subject, "subject", "cli", "token subject")
	f.StringVar(&opts.tenant, "tenant", "", "tenant id claim")
	f.BoolVar(&opts.admin, "admin", false, "grant the admin role (cross-tenant reads)")
	f.DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func (o *tokenOptions) issue(auth server.AuthConfig) (string, error) {
	if o.tenant == "" && !o.admin {
		return "", errors.New("either --tenant or --admin is required")
	}
	if o.ttl <= 0 {
		return "", errors.New("--ttl must be positive")
	}
	var tenant *uuid.UUID
	if o.tenant != "" {
		id, err := validation.ValidateTenantID(o.tenant)
		if err != nil {
			return "", err
		}
		tenant = &id
	}
	var roles []string
	if o.admin {
		roles = append(roles, "admin")
	}
	return server.IssueToken(auth, o.subject, tenant, roles, o.ttl)
}
