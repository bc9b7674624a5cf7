package docqa

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/docqa/pkg/llm"
)

var (
	queryTopK      int
	queryThreshold float64
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question about the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return fmt.Errorf("question cannot be empty")
		}

		stack, err := newStack(cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		topK := queryTopK
		if topK <= 0 {
			topK = cfg.Search.TopK
		}
		threshold := queryThreshold
		if threshold <= 0 {
			threshold = cfg.Search.AskThreshold
		}

		ctx := context.Background()
		hits, err := stack.pipeline.SearchDocuments(ctx, question, topK, threshold, nil)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(hits) == 0 {
			fmt.Println("No relevant information found in the indexed documents.")
			return nil
		}

		for i := range hits {
			if name, err := stack.repo.DocumentName(ctx, hits[i].DocumentID); err == nil && name != "" {
				hits[i].DocumentName = name
			}
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

		used, err := llmService.StreamAnswer(ctx, hits, question, nil, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		if err != nil {
			return fmt.Errorf("answer generation failed: %w", err)
		}

		fmt.Printf("\n[%s] Sources:\n", used)
		seen := make(map[string]bool)
		for _, hit := range hits {
			name := hit.DocumentName
			if name == "" {
				name = "Document " + hit.DocumentID
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			fmt.Printf("  - %s (score %.3f)\n", name, hit.Score)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	queryCmd.Flags().Float64VarP(&queryThreshold, "threshold", "t", 0, "minimum similarity score (default from config)")
}
