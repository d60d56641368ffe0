package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/services"
)

// actor recorded in audit entries for keys managed from the CLI
const cliActor = "keyctl"

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"keys", "apikey"},
		Short:   "Manage stored API keys",
		Long:    "Create, list, inspect, revoke and delete API keys in the configured storage backend.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyGetCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name       string
		scopes     []string
		expiresIn  time.Duration
		meta       []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate and store a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  keyctl key create --name "CI pipeline" --scope api_keys:read
  keyctl key create --name admin --scope api_keys:read --scope api_keys:write --expires-in 720h
  keyctl key create --name billing --meta team=payments --meta env=prod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}

			params := services.CreateAPIKeyParams{
				Name:       name,
				Scopes:     scopes,
				Metadata:   metadata,
				ActorKeyID: cliActor,
			}
			if expiresIn != 0 {
				if expiresIn < 0 {
					return fmt.Errorf("--expires-in must be positive")
				}
				expiresAt := time.Now().UTC().Add(expiresIn)
				params.ExpiresAt = &expiresAt
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			generated, err := s.service.CreateAPIKey(ctx, params)
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, generated)
			}

			fmt.Fprintln(out, "API key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:     %s\n", generated.RawKey)
			fmt.Fprintf(out, "  Key ID:  %s\n", generated.APIKey.KeyID)
			fmt.Fprintf(out, "  Name:    %s\n", generated.APIKey.Name)
			fmt.Fprintf(out, "  Scopes:  %s\n", formatScopes(generated.APIKey.Scopes))
			if generated.APIKey.ExpiresAt != nil {
				fmt.Fprintf(out, "  Expires: %s\n", generated.APIKey.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "human-readable name for the key (required)")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "scope to grant, repeatable")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "lifetime of the key, e.g. 720h (default: never expires)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata entry as key=value, repeatable")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		limit      int
		offset     int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := s.service.ListAPIKeys(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, keys)
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No API keys found. Use 'keyctl key create' to create one.")
				return nil
			}
			return writeKeyTable(out, keys, time.Now().UTC())
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of keys to list (1-100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of keys to skip")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

// ---------- key get ----------

func newKeyGetCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <key-id>",
		Short: "Show a single API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			key, err := s.service.GetAPIKey(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get api key %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, key)
			}
			writeKeyDetail(out, key, time.Now().UTC())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key. Revocation is permanent; the record stays visible until deleted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.service.RevokeAPIKey(ctx, args[0], cliActor); err != nil {
				return fmt.Errorf("revoke api key %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked.\n", args[0])
			return nil
		},
	}
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key-id>",
		Aliases: []string{"rm"},
		Short:   "Delete an API key record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.service.DeleteAPIKey(ctx, args[0], cliActor); err != nil {
				return fmt.Errorf("delete api key %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s deleted.\n", args[0])
			return nil
		},
	}
}

// ---------- helpers ----------

func parseMetadata(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", entry)
		}
		metadata[k] = v
	}
	return metadata, nil
}

func formatScopes(scopes []string) string {
	if len(scopes) == 0 {
		return "-"
	}
	return strings.Join(scopes, ",")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeKeyTable(w io.Writer, keys []*models.APIKeyInfo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY ID\tNAME\tSTATE\tSCOPES\tEXPIRES\tLAST USED")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.KeyID, k.Name, k.StateAt(now), formatScopes(k.Scopes), formatTime(k.ExpiresAt), formatTime(k.LastUsedAt))
	}
	return tw.Flush()
}

func writeKeyDetail(w io.Writer, k *models.APIKeyInfo, now time.Time) {
	fmt.Fprintf(w, "Key ID:     %s\n", k.KeyID)
	fmt.Fprintf(w, "Name:       %s\n", k.Name)
	fmt.Fprintf(w, "State:      %s\n", k.StateAt(now))
	fmt.Fprintf(w, "Scopes:     %s\n", formatScopes(k.Scopes))
	fmt.Fprintf(w, "Created:    %s\n", k.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Expires:    %s\n", formatTime(k.ExpiresAt))
	fmt.Fprintf(w, "Last used:  %s\n", formatTime(k.LastUsedAt))
	for mk, mv := range k.Metadata {
		fmt.Fprintf(w, "Meta:       %s=%s\n", mk, mv)
	}
}
