package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"accord/internal/orchestrator"
	"accord/internal/retrieval"
	"accord/pkg/requestcontext"
)

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	var (
		accreditor  string
		institution string
	)
	cmd := &cobra.Command{
		Use:   "analyze <evidence-file>...",
		Short: "Run the analysis pipeline over evidence files",
		Long: `Analyze maps each evidence file to the standards corpus, finds gaps,
drafts and verifies claims, and prints the run summary as JSON.

The file name without its extension becomes the evidence id.

Example:
  accordctl analyze --corpus standards.yaml --accreditor SACS library.txt audit.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readEvidence(cmd, args, institution, accreditor)
			if err != nil {
				return err
			}
			a, err := root.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			summary, err := a.Orchestrator.Run(cmd.Context(), orchestrator.Request{
				Documents:  docs,
				Accreditor: accreditor,
			})
			if summary != nil {
				if wErr := writeJSON(cmd.OutOrStdout(), summary); wErr != nil {
					return wErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&accreditor, "accreditor", "", "limit analysis to one accreditor's standards")
	cmd.Flags().StringVar(&institution, "institution", "", "institution the evidence belongs to")
	return cmd
}

func readEvidence(cmd *cobra.Command, paths []string, institution, accreditor string) ([]retrieval.EvidenceDocument, error) {
	now := requestcontext.Now(cmd.Context())
	seen := make(map[string]string, len(paths))
	docs := make([]retrieval.EvidenceDocument, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read evidence: %w", err)
		}
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("evidence id %q used by both %s and %s", id, prev, p)
		}
		seen[id] = p
		docs = append(docs, retrieval.EvidenceDocument{
			ID:            id,
			ExtractedText: string(raw),
			OwnerContext:  retrieval.OwnerContext{Institution: institution, Accreditor: accreditor},
			UploadedAt:    now,
		})
	}
	return docs, nil
}
