package cli

import (
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/lissto-dev/updater/pkg/state"
	"github.com/lissto-dev/updater/pkg/version"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check -f REQUEST",
		Short: "Check all configured sources for the newest version of an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req version.CheckRequest
			if err := readRequest(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}
			if err := validator.New().Struct(&req); err != nil {
				return version.InvalidInput("%v", err)
			}

			checker := version.NewChecker(state.NewRuntime())
			resp, err := checker.Check(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), root.output, resp)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Check request file (YAML or JSON, - for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
