package cmd

import (
	"os"
	"path/filepath"

	"github.com/crytic/forkstate/chain/config"
	"github.com/crytic/forkstate/logging/colors"
	"github.com/crytic/forkstate/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// initCmd represents the command provider for init
var initCmd = &cobra.Command{
	Use:           "init",
	Short:         "Initializes a project configuration",
	Long:          `Initializes a project configuration. Fork flags given to init are written into the file.`,
	Args:          cobra.NoArgs,
	RunE:          cmdRunInit,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Output path for configuration
	initCmd.Flags().String("out", "", "output path for the new project configuration file")
	initCmd.Flags().Bool("force", false, "overwrite an existing configuration file")
	addForkFlags(initCmd.Flags())

	rootCmd.AddCommand(initCmd)
}

// cmdRunInit executes the init CLI command and writes out the project configuration
func cmdRunInit(cmd *cobra.Command, args []string) error {
	outputPath, err := cmd.Flags().GetString("out")
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}
	// If we weren't provided an output path, we use our working directory
	if outputPath == "" {
		workingDirectory, err := os.Getwd()
		if err != nil {
			cmdLogger.Error("Failed to run the init command", err)
			return err
		}
		outputPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}
	if utils.FileExists(outputPath) && !force {
		err = errors.Errorf("%s already exists, use --force to overwrite it", outputPath)
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}

	// Update the default configuration given whatever flags were set using the CLI
	projectConfig := config.DefaultProjectConfig()
	err = updateProjectConfigWithForkFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}
	err = projectConfig.Validate()
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}

	err = projectConfig.WriteToFile(outputPath)
	if err != nil {
		cmdLogger.Error("Failed to run the init command", err)
		return err
	}

	// Print a success message
	if absoluteOutputPath, err := filepath.Abs(outputPath); err == nil {
		outputPath = absoluteOutputPath
	}
	cmdLogger.Info("Project configuration successfully output to: ", colors.Bold, outputPath, colors.Reset)
	return nil
}
