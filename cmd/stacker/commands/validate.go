package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/resources"
)

func newValidateCommand() *cobra.Command {
	var params map[string]string

	cmd := &cobra.Command{
		Use:   "validate TEMPLATE",
		Short: "Validate a stack template",
		Long: `Validate a stack template without touching any cloud resource.

This command checks:
  - Template syntax
  - Parameter values and types
  - Resource types and references
  - Dependency cycles`,
		Example: `  # Validate a template
  stacker validate stack.yaml

  # Validate with parameters
  stacker validate stack.yaml --param Size=10 --param Zone=nova`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("template", args[0]).Msg("Validating template")

			tmpl, err := readTemplate(args[0])
			if err != nil {
				return err
			}
			graph, err := engine.Validate(tmpl, params, resources.NewRegistry())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Template is valid. Creation order: %s\n",
				strings.Join(graph.Order(), ", "))
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "template parameter (key=value)")

	return cmd
}
