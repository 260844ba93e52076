package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/valentindosimont/usagedash/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := cfg.Marshal(cfgPath)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one config value and save the file",
	Long: "Set one config value and save the file. Use \"none\" to clear a manual value.\n\nKeys:\n  " +
		strings.Join(config.Keys, "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(cfgPath); err != nil {
			return eris.Wrapf(err, "save %s", cfgPath)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", key)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
