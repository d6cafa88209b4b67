package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/greenledger/qagate/cmd/serve"
	"github.com/greenledger/qagate/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var dumpConfig bool

	rootCmd := &cobra.Command{
		Use:   "qagate",
		Short: "Dataset QA review and approval service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dumpConfig {
				out, err := conf.DumpYAML(settings)
				if err != nil {
					return err
				}
				cmd.Println(out)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&dumpConfig, "dump-config", false, "Print the effective configuration and exit")

	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	rootCmd.AddCommand(serve.Command(settings))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Sync flag overrides back into the settings struct so
		// command-line arguments take precedence over the config file.
		settings.Debug = viper.GetBool("debug")
		if port := viper.GetString("webserver.port"); port != "" {
			settings.WebServer.Port = port
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "HTTP listen port")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
