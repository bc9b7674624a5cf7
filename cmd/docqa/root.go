// Package docqa implements the docqa command line interface.
package docqa

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/docqa/pkg/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "DocQA - document question answering service",
	Long: `DocQA ingests PDF, DOCX, HTML, Markdown and plain-text documents,
indexes them in a local vector store, and answers questions about their
content with citations, using local or hosted language models.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// GetRootCmd returns the root cobra command for testing purposes.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// SetVersion sets the version reported by the CLI.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docqa version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./docqa.toml or ~/.docqa/docqa.toml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(ingestCmd)
	RootCmd.AddCommand(queryCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(resetCmd)
}
