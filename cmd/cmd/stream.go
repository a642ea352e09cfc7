package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var streamHost string

// streamCmd posts an event code to a running pipeline's control surface
// (POST /events/:code) — the operator-facing equivalent of a manual
// EmitEvent call, used to trigger an EOS or other well-known event
// against a pipeline started with `serve`.
var streamCmd = &cobra.Command{
	Use:   "stream <code>",
	Short: "stream - submit an event code to a running pipeline's control surface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid event code %q: %w", args[0], err)
		}

		resp, err := http.Post(streamHost+"/events/"+args[0], "application/octet-stream", nil)
		if err != nil {
			return fmt.Errorf("posting event: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("pipeline rejected event: %s", resp.Status)
		}
		fmt.Println("event accepted")
		return nil
	},
}

func init() {
	streamCmd.Flags().StringVar(&streamHost, "host", "http://localhost:5000", "base URL of a running `serve` instance")
	rootCmd.AddCommand(streamCmd)
}
