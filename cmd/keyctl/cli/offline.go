package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/keyward/internal/auth"
)

var errVerifyMismatch = errors.New("key does not match hash")

// ---------- generate ----------

func newGenerateCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key and its hash without storing it",
		Long:  "Generate a raw key and its SHA-256 hash. Useful for seeding BOOTSTRAP_ADMIN_KEY.",
		Example: `  keyctl generate
  keyctl generate --prefix svc_`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawKey, keyHash, err := auth.GenerateAPIKey(prefix)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:        %s\n", rawKey)
			fmt.Fprintf(out, "Hash:       %s\n", keyHash)
			if id := auth.DisplayID(rawKey); id != "" {
				fmt.Fprintf(out, "Display ID: %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", auth.DefaultPrefix, "key prefix, must end with the delimiter to carry a display id")

	return cmd
}

// ---------- hash ----------

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <raw-key>",
		Short: "Print the SHA-256 hash stored for a raw key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), auth.HashAPIKey(args[0]))
			return nil
		},
	}
}

// ---------- verify ----------

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <raw-key> <hash>",
		Short: "Check a raw key against a stored hash",
		Long:  "Compare the hash of a raw key to a stored hash in constant time. Exits non-zero on mismatch.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.VerifyAPIKey(args[0], args[1]) {
				return errVerifyMismatch
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}
