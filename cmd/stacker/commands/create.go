package commands

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCreateCommand() *cobra.Command {
	var (
		name     string
		params   map[string]string
		teardown bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create TEMPLATE",
		Short: "Create a stack",
		Long: `Create every resource of a template in dependency order and print the
stack outputs.

Resources that wait on the cloud are polled cooperatively: while one volume
is still being created, independent resources keep making progress.`,
		Example: `  # Create a stack
  stacker create stack.yaml --name web

  # Create, print outputs and delete again
  stacker create stack.yaml --name web --teardown

  # Fail if creation takes longer than ten minutes
  stacker create stack.yaml --name web --timeout 10m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			s, err := env.newStack(cmd.Context(), name, args[0], params)
			if err != nil {
				return err
			}

			log.Info().
				Str("stack", name).
				Str("template", args[0]).
				Bool("teardown", teardown).
				Msg("Creating stack")

			return env.serve(cmd.Context(), func(ctx context.Context) error {
				createErr := env.runAction(ctx, s, s.CreateTask(), timeout)
				if createErr == nil {
					if err := printOutputs(ctx, cmd.OutOrStdout(), s); err != nil {
						createErr = err
					}
				}
				if !teardown {
					return createErr
				}

				// Deletion must outlive an interrupted create.
				deleteErr := env.runAction(context.WithoutCancel(ctx), s, s.DeleteTask(), timeout)
				return errors.Join(createErr, deleteErr)
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "stack name")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "template parameter (key=value)")
	cmd.Flags().BoolVar(&teardown, "teardown", false, "delete the stack after creating it")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stack action timeout (overrides scheduler.timeout)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
