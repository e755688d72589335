package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a test message to every configured alert channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		channels, err := buildChannels(cfg)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			return errors.New("no alert channels configured")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Alert.Timeout)
		defer cancel()

		failed := 0
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL\tRESULT")
		for _, ch := range channels {
			res, err := ch.TestConnection(ctx)
			switch {
			case err != nil:
				failed++
				fmt.Fprintf(tw, "%s\terror: %v\n", ch.Provider(), err)
			case !res.Success:
				failed++
				fmt.Fprintf(tw, "%s\tfailed: %s\n", ch.Provider(), res.Error)
			default:
				fmt.Fprintf(tw, "%s\tok\n", ch.Provider())
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d channels failed", failed, len(channels))
		}
		return nil
	},
}
