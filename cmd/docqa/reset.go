package docqa

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the vector index",
	Long: `Remove every chunk from the vector index. Stored documents are kept
and can be re-indexed with the server's reset-vector-store endpoint or by
running ingest again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			fmt.Print("This will remove all indexed chunks. Continue? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.ToLower(strings.TrimSpace(answer))
			if answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		stack, err := newStack(cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		if err := stack.pipeline.Reset(); err != nil {
			return fmt.Errorf("failed to clear vector index: %w", err)
		}

		fmt.Println("Vector index cleared.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "skip the confirmation prompt")
}
