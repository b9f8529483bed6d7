package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCommand() *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "call <action> [json]",
		Short: "Send one action to the daemon and print the result",
		Example: `  hostbridge call testPing
  hostbridge call audioSetVolume '{"volume":40}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			var data any
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.New("payload is not valid JSON")
				}
				data = json.RawMessage(args[1])
			}

			res, err := callDaemon(cmd.Context(), action, data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printJSON(out, res, pretty || isTerminal(out)); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%s failed: %s", action, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "Indent output even when not a terminal")
	return cmd
}
