package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stacker/pkg/config"
	"github.com/openfroyo/stacker/pkg/engine"
)

func newUpdateCommand() *cobra.Command {
	var (
		name     string
		from     string
		params   map[string]string
		watch    bool
		teardown bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "update TEMPLATE",
		Short: "Move a stack to a new template",
		Long: `Create a stack from --from (or from TEMPLATE itself) and update it to
TEMPLATE.

Unchanged resources are left alone, changed resources are updated in place or
replaced, and resources missing from TEMPLATE are deleted. Nested stacks always
re-fetch their template.

With --watch the command keeps running and applies TEMPLATE again every time
the file changes, until interrupted.`,
		Example: `  # Update web from v1 to v2
  stacker update v2.yaml --name web --from v1.yaml

  # Keep web in sync with stack.yaml while editing it
  stacker update stack.yaml --name web --watch --teardown`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if from == "" {
				from = path
			}

			env, err := newEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			s, err := env.newStack(cmd.Context(), name, from, params)
			if err != nil {
				return err
			}

			apply := func(ctx context.Context) error {
				tmpl, err := readTemplate(path)
				if err != nil {
					return err
				}
				task, err := s.UpdateTask(tmpl, params)
				if err != nil {
					return err
				}
				log.Info().Str("stack", name).Str("template", path).Msg("Updating stack")
				if err := env.runAction(ctx, s, task, timeout); err != nil {
					return err
				}
				return printOutputs(ctx, cmd.OutOrStdout(), s)
			}

			return env.serve(cmd.Context(), func(ctx context.Context) error {
				err := runUpdate(ctx, env, s, cmd.OutOrStdout(), path, from, watch, timeout, apply)
				if !teardown {
					return err
				}
				deleteErr := env.runAction(context.WithoutCancel(ctx), s, s.DeleteTask(), timeout)
				return errors.Join(err, deleteErr)
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "stack name")
	cmd.Flags().StringVar(&from, "from", "", "template the stack is created from (default TEMPLATE)")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "template parameter (key=value)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "apply TEMPLATE again whenever it changes")
	cmd.Flags().BoolVar(&teardown, "teardown", false, "delete the stack before exiting")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stack action timeout (overrides scheduler.timeout)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runUpdate(ctx context.Context, env *environment, s *engine.Stack, out io.Writer, path, from string, watch bool,
	timeout time.Duration, apply func(ctx context.Context) error) error {
	log.Info().Str("stack", s.Name()).Str("template", from).Msg("Creating stack")
	if err := env.runAction(ctx, s, s.CreateTask(), timeout); err != nil {
		return fmt.Errorf("initial create failed: %w", err)
	}

	if from != path {
		if err := apply(ctx); err != nil {
			return err
		}
	} else if err := printOutputs(ctx, out, s); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	w := config.NewWatcher(path, 0, env.tel.Logger)
	return w.Watch(ctx, apply)
}
