package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Global flags
var (
	configPath string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stacker",
		Short: "stacker - orchestrate volume stacks",
		Long: `stacker creates, updates and deletes stacks of block storage resources
described by a CloudFormation-style template.

Supported resource types:
  - AWS::EC2::Volume and OS::Cinder::Volume
  - AWS::EC2::VolumeAttachment and OS::Cinder::VolumeAttachment
  - AWS::CloudFormation::Stack (nested stacks fetched by URL)`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newStacksCommand())
	rootCmd.AddCommand(newEventsCommand())

	return rootCmd
}
