package docqa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/extractor"
)

var ingestRecursive bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [file/directory]",
	Short: "Import documents into the vector index",
	Long: `Extract, chunk, embed and index one document or every supported
document under a directory. Supported formats: pdf, docx, txt, html, md.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := newStack(cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		paths, err := collectFiles(args[0], ingestRecursive)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no supported documents found at %s", args[0])
		}

		ctx := context.Background()
		for _, path := range paths {
			if err := ingestOne(ctx, stack, path); err != nil {
				fmt.Printf("Failed: %s: %v\n", path, err)
				continue
			}
		}
		return nil
	},
}

func ingestOne(ctx context.Context, st *stack, path string) error {
	filename := filepath.Base(path)
	fileID := uuid.New().String()
	documentID := fileID + "_" + filename

	notify := domain.ProgressFunc(func(p domain.IngestProgress) {
		if verbose {
			fmt.Printf("  [%3d%%] %s %s\n", p.Progress, p.Stage, p.Detail)
		}
	})

	result, err := st.pipeline.Ingest(ctx, path, documentID, nil, notify)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:            fileID,
		Filename:      filename,
		FilePath:      path,
		FileType:      strings.ToLower(filepath.Ext(path)),
		ProcessedPath: result.ProcessedPath,
		Status:        domain.StatusProcessed,
		CharCount:     result.CharCount,
		ChunksCreated: result.ChunksCreated,
		DocumentID:    documentID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.repo.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to record document: %w", err)
	}

	fmt.Printf("Ingested %s: %d chars, %d chunks\n", filename, result.CharCount, result.ChunksCreated)
	return nil
}

func collectFiles(root string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if extractor.IsValidFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestRecursive, "recursive", "r", false, "recurse into subdirectories")
}
