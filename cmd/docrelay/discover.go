package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/docrelay/internal/mdns"
)

const defaultDiscoverTimeout = 3 * time.Second

// newDiscoverCommand lists relays advertising themselves over mDNS. A nil
// browse uses the system resolver.
func newDiscoverCommand(stdout io.Writer, browse mdns.Browser) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List relays advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			relays, err := mdns.Discover(ctx, browse)
			if err != nil {
				return fmt.Errorf("discover relays: %w", err)
			}
			if len(relays) == 0 {
				fmt.Fprintln(stdout, "no relays found")
				return nil
			}
			for _, r := range relays {
				env := r.Env
				if env == "" {
					env = "-"
				}
				fmt.Fprintf(stdout, "%-20s %-28s env=%s\n", r.Name, r.URL(), env)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultDiscoverTimeout, "how long to browse for relays")
	return cmd
}
