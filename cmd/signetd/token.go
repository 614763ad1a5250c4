package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/signetai/signetd/internal/authz"
	"github.com/signetai/signetd/internal/config"
	"github.com/signetai/signetd/internal/workspace"
)

var (
	tokenRole    string
	tokenProject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens for hybrid and team modes",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create <subject>",
	Short: "Issue a signed token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := authz.Role(tokenRole)
		switch role {
		case authz.RoleAdmin, authz.RoleOperator, authz.RoleAgent, authz.RoleReadonly:
		default:
			return fmt.Errorf("invalid role %q (admin, operator, agent, readonly)", tokenRole)
		}

		secret, statePath, err := authPaths()
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = config.GetDuration("auth.default_token_ttl")
		}
		claims := &authz.Claims{
			Subject:   args[0],
			Role:      role,
			Project:   tokenProject,
			ExpiresAt: time.Now().UTC().Add(ttl),
		}
		token, err := authz.EncodeToken(claims, secret)
		if err != nil {
			return err
		}

		state, err := authz.LoadState(statePath)
		if err != nil {
			return err
		}
		state.Upsert(authz.StateEntry{Subject: args[0], Role: role, Project: tokenProject})
		if err := state.Save(statePath); err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(map[string]any{
				"subject": args[0], "role": role, "expiresAt": claims.ExpiresAt, "token": token,
			})
		}
		printf("%s\n", token)
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, statePath, err := authPaths()
		if err != nil {
			return err
		}
		state, err := authz.LoadState(statePath)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(state)
		}
		if len(state.Entries) == 0 {
			printf("No identities issued.\n")
			return nil
		}
		for _, e := range state.Entries {
			line := fmt.Sprintf("%-20s %-10s", e.Subject, e.Role)
			if e.Project != "" {
				line += "  project=" + e.Project
			}
			printf("%s\n", line)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <subject>",
	Short: "Remove a subject from the identity registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, statePath, err := authPaths()
		if err != nil {
			return err
		}
		state, err := authz.LoadState(statePath)
		if err != nil {
			return err
		}
		if !state.Remove(args[0]) {
			return fmt.Errorf("subject %q not found", args[0])
		}
		if err := state.Save(statePath); err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(map[string]any{"subject": args[0], "status": "revoked"})
		}
		printf("Revoked %s. Existing tokens stay valid until expiry; rotate the secret to cut them off.\n", args[0])
		return nil
	},
}

// authPaths resolves the signing secret and auth.json locations for this
// workspace.
func authPaths() ([]byte, string, error) {
	signetDir := workspace.FindDir()
	if signetDir == "" {
		return nil, "", fmt.Errorf("no workspace found: run 'signetd init' first")
	}
	secretPath := config.GetString("auth.secret_path")
	if secretPath == "" {
		secretPath = filepath.Join(signetDir, "auth.secret")
	}
	statePath := config.GetString("auth.state_path")
	if statePath == "" {
		statePath = filepath.Join(signetDir, "auth.json")
	}
	secret, err := authz.LoadOrCreateSecret(secretPath)
	if err != nil {
		return nil, "", err
	}
	return secret, statePath, nil
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenRole, "role", "agent", "role (admin, operator, agent, readonly)")
	tokenCreateCmd.Flags().StringVar(&tokenProject, "project", "", "restrict the token to one project")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default from config)")
	tokenCmd.AddCommand(tokenCreateCmd, tokenListCmd, tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}
