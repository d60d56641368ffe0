package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/keyward/internal/models"
)

func newCheckCmd() *cobra.Command {
	var (
		scopes  []string
		matchMode string
	)

	cmd := &cobra.Command{
		Use:   "check <raw-key>",
		Short: "Authenticate a raw key and optionally check its scopes",
		Long: `Look up a raw key in storage, report why it is rejected if it is, and
check it against the given scopes. Exits non-zero when the key would be
refused. A successful check counts as a use of the key.`,
		Example: `  keyctl check kw_... --scope api_keys:read
  keyctl check kw_... --scope api_keys:read --scope api_keys:write --require any`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requirement, err := models.ParseScopeRequirement(matchMode)
			if err != nil {
				return fmt.Errorf("invalid --require: %w", err)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			info, err := s.service.Authenticate(ctx, args[0], "")
			if err != nil {
				return fmt.Errorf("key rejected: %w", err)
			}
			if len(scopes) > 0 {
				if err := s.service.Authorize(ctx, info, scopes, requirement); err != nil {
					return fmt.Errorf("key %s denied: %w", info.KeyID, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK: key %s (%s) is active with scopes %s\n",
				info.KeyID, info.Name, formatScopes(info.Scopes))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "scope the key must hold, repeatable")
	cmd.Flags().StringVar(&matchMode, "require", "all", "how scopes are matched: all or any")

	return cmd
}
