package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/m2i-duo/mandoc-ocr-api/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(filename); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", filename)
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch format {
		case "yaml":
			return yaml.NewEncoder(out).Encode(cfg)
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		default:
			return fmt.Errorf("unsupported format %q (use yaml or json)", format)
		}
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show where configuration files are searched",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "Configuration file used: %s\n", used)
		}
		for _, p := range config.GetConfigSearchPaths() {
			_, _ = fmt.Fprintln(out, p)
		}
		_, _ = fmt.Fprintf(out, "Environment prefix: %s_\n", config.EnvPrefix)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathsCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().StringP("format", "f", "yaml", "output format: yaml or json")
}
