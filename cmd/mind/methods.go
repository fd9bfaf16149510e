package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mind/pkg/methods"
)

// methodCommands exposes every registered method as a subcommand named
// with dashes, e.g. visualize-tiles.
func methodCommands() []*cobra.Command {
	var cmds []*cobra.Command
	for _, name := range methods.Names() {
		cmds = append(cmds, newMethodCmd(name))
	}
	return cmds
}

func newMethodCmd(function string) *cobra.Command {
	var cohortID, containerID, paramsPath string
	cmd := &cobra.Command{
		Use:   cliName(function),
		Short: fmt.Sprintf("Run %s against one container", function),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := methods.Lookup(function)
			if err != nil {
				return err
			}
			params, err := methods.ReadParams(paramsPath)
			if err != nil {
				return err
			}
			body, err := json.Marshal(params)
			if err != nil {
				return err
			}
			if params, err = m.Validate(body); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			conn, err := connectGraph(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			return methods.NewRunner(conn, app.DataDir, logger).Run(ctx, function, cohortID, containerID, params)
		},
	}
	cmd.Flags().StringVarP(&cohortID, "cohort_id", "c", "", "cohort namespace")
	cmd.Flags().StringVarP(&containerID, "container_id", "s", "", "container name, qualified address or node id")
	cmd.Flags().StringVarP(&paramsPath, "method_param_path", "m", "", "JSON file with the method parameters")
	_ = cmd.MarkFlagRequired("cohort_id")
	_ = cmd.MarkFlagRequired("container_id")
	_ = cmd.MarkFlagRequired("method_param_path")
	return cmd
}

func cliName(function string) string {
	return strings.ReplaceAll(function, "_", "-")
}
