package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kiranshivaraju/cadence/internal/client"
	"github.com/spf13/cobra"
)

func newHealthCommand(server *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := client.NewHTTPClient(*server, 10*time.Second)
			h, err := api.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, h); err != nil {
					return err
				}
			} else {
				rows := [][]string{
					{"status", h.Status},
					{"version", h.Version},
					{"active generations", strconv.Itoa(h.ActiveGenerations)},
					{"connections", strconv.Itoa(h.Connections)},
				}
				names := make([]string, 0, len(h.Components))
				for name := range h.Components {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					rows = append(rows, []string{name, h.Components[name]})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "Value"}, rows, nil))
			}

			if h.Status != "ok" {
				return errors.New("server is degraded")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the health report as JSON")
	return cmd
}
