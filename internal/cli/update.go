package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lissto-dev/updater/pkg/docker"
	"github.com/lissto-dev/updater/pkg/process"
	"github.com/lissto-dev/updater/pkg/state"
	"github.com/lissto-dev/updater/pkg/update"
	"github.com/lissto-dev/updater/pkg/version"
)

// errUpdateFailed is returned after the report is printed so the exit code reflects the outcome
var errUpdateFailed = errors.New("update failed")

func newUpdateCmd(root *rootOptions) *cobra.Command {
	var (
		file       string
		dockerHost string
	)

	cmd := &cobra.Command{
		Use:   "update -f REQUEST",
		Short: "Rebuild and restart a container, rolling back if the new one is unhealthy",
		Long: `Rebuild and restart a container, rolling back if the new one is unhealthy.

The update lock only guards this process; it does not exclude an update of
the same image running in the server. Once started the update runs to
completion, so interrupting it does not abandon a half-replaced container.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req update.Request
			if err := readRequest(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}
			if err := validator.New().Struct(&req); err != nil {
				return version.InvalidInput("%v", err)
			}
			if req.OperationID == "" {
				req.OperationID = "op-" + uuid.NewString()
			}

			if keep := req.RollbackPolicy.KeepBackupMinutes; keep > 0 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(),
					"warning: keepBackupMinutes=%d is not honoured by updaterctl, a backup is left in place when this command exits\n", keep)
			}

			engine, err := docker.NewClient(dockerHost)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			rt := state.NewRuntime()
			imageKey := req.Image.Key()
			if err := rt.TryLockUpdate(imageKey, req.OperationID); err != nil {
				return err
			}
			defer rt.UnlockUpdate(imageKey, req.OperationID)

			orchestrator := update.NewOrchestrator(process.NewExecRunner(), engine)
			resp, err := orchestrator.UpdateAndRestart(context.WithoutCancel(cmd.Context()), req)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), root.output, resp); err != nil {
				return err
			}
			if !resp.Success {
				return errUpdateFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Update request file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&dockerHost, "docker-host", "", "Docker daemon address (defaults to DOCKER_HOST)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
