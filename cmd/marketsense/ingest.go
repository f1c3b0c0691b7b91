package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hrygo/marketsense/plugin/ai"
	"github.com/hrygo/marketsense/server/runner/embedding"
)

var skipIndex bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <corpus.yaml>",
	Short: "Load a YAML corpus file and index its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := loadProfile()
		if err != nil {
			return err
		}
		file, err := embedding.LoadCorpusFile(args[0])
		if err != nil {
			return err
		}
		s, err := openStore(ctx, p)
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := embedding.Ingest(ctx, s, file)
		if err != nil {
			return err
		}
		slog.Info("corpus ingested",
			slog.Int("chunks", stats.Chunks),
			slog.Int("entities", stats.Entities),
			slog.Int("team_members", stats.TeamMembers),
		)
		if skipIndex {
			return nil
		}

		embedder, err := ai.NewEmbeddingService(&ai.NewConfigFromProfile(p).Embedding)
		if err != nil {
			return err
		}
		indexed, err := embedding.NewRunner(s, embedder).RunOnce(ctx)
		if err != nil {
			return err
		}
		slog.Info("corpus indexed", slog.Int("chunks", indexed))
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&skipIndex, "skip-index", false, "only load the file, leave embedding to the server")
}
