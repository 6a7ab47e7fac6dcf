package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/mgmt/internal/signing"
)

// errInvalidSignature makes verify exit non-zero.
var errInvalidSignature = errors.New("signature mismatch")

func newVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a body against a signature",
		Args:  cobra.NoArgs,
		RunE:  VerifyHandler,
	}
	verifyCmd.Flags().String("body-file", "-", "File holding the exact body bytes, - for stdin")
	verifyCmd.Flags().String("signature", "", "Signature in sha256=<hex> form")
	verifyCmd.Flags().String("secret", "", "Shared secret (default $AGENT_SHARED_SECRET)")
	_ = verifyCmd.MarkFlagRequired("signature")
	return verifyCmd
}

// VerifyHandler prints valid or invalid.
func VerifyHandler(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	secret := stringFlag(cmd, "secret", cfg.SharedSecret)
	if secret == "" {
		return errors.New("shared secret is required: set AGENT_SHARED_SECRET or --secret")
	}

	path, _ := cmd.Flags().GetString("body-file")
	body, err := readBody(cmd, path)
	if err != nil {
		return err
	}

	sig, _ := cmd.Flags().GetString("signature")
	if !signing.Verify(body, sig, []byte(secret)) {
		fmt.Fprintln(cmd.OutOrStdout(), "invalid")
		return errInvalidSignature
	}
	fmt.Fprintln(cmd.OutOrStdout(), "valid")
	return nil
}

func readBody(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
