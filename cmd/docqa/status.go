package docqa

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/docqa/pkg/llm"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index, document and LLM backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := newStack(cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		docs, err := stack.repo.CountDocuments(context.Background())
		if err != nil {
			return fmt.Errorf("failed to count documents: %w", err)
		}

		fmt.Println("Documents")
		fmt.Printf("  stored: %d\n", docs)

		fmt.Println("Vector index")
		stats := stack.pipeline.Stats()
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, stats[k])
		}

		llmService := llm.NewService(llm.Config{
			PreferLocal:  cfg.LLM.PreferLocal,
			LocalBaseURL: cfg.LLM.LocalBaseURL,
			LocalModel:   cfg.LLM.LocalModel,
			OpenAIAPIKey: cfg.LLM.OpenAIAPIKey,
			OpenAIModel:  cfg.LLM.OpenAIModel,
			GroqAPIKey:   cfg.LLM.GroqAPIKey,
			GroqModel:    cfg.LLM.GroqModel,
		})

		fmt.Println("LLM backends")
		status := llmService.Status()
		if order, ok := status["priority"].([]string); ok {
			for _, name := range order {
				entry, ok := status[name].(map[string]interface{})
				if !ok {
					continue
				}
				state := "unreachable"
				if up, _ := entry["available"].(bool); up {
					state = "available"
				}
				fmt.Printf("  %s (%v): %s\n", name, entry["model"], state)
			}
		}
		return nil
	},
}
