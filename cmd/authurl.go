package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/mgmt/internal/authurl"
)

func newAuthURLCmd() *cobra.Command {
	authURLCmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Start a gcloud login and print its authorization URL",
		Args:  cobra.NoArgs,
		RunE:  AuthURLHandler,
	}
	authURLCmd.Flags().String("gcloud", "", "Path to the gcloud binary (default $GCLOUD_PATH)")
	authURLCmd.Flags().Duration("wait", 0, "How long to wait for the URL (default $AUTH_URL_WAIT_MS)")
	return authURLCmd
}

// AuthURLHandler prints CLEAN_URL:<url>, or the raw output when no URL was found.
func AuthURLHandler(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	wait := cfg.AuthURLWait
	if v, _ := cmd.Flags().GetDuration("wait"); v > 0 {
		wait = v
	}
	g := authurl.NewGrabber(stringFlag(cmd, "gcloud", cfg.GCloudPath), wait)

	url, err := g.Grab(cmd.Context())
	if err != nil {
		var nf *authurl.NotFoundError
		if errors.As(err, &nf) {
			logger.Warn("auth url not found", "output", nf.Output)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "CLEAN_URL:%s\n", url)
	return nil
}
