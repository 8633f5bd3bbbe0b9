package main

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/extractfile"
	"github.com/formworks/profile-cli/internal/resilience"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json> [file.json...]",
	Short: "Ingest extraction output files into entity profiles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		failed := ingestFiles(ctx, a, args)
		if failed > 0 {
			return eris.Errorf("ingest: %d of %d file(s) failed", failed, len(args))
		}
		return nil
	},
}

// ingestFiles processes files concurrently. Individual failures are logged
// and counted rather than aborting the batch.
func ingestFiles(ctx context.Context, a *app, paths []string) int64 {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Ingest.MaxConcurrentFiles)

	var failed atomic.Int64
	for _, path := range paths {
		g.Go(func() error {
			log := zap.L().With(zap.String("file", path))

			payload, err := extractfile.ReadJSON(path)
			if err != nil {
				failed.Add(1)
				log.Error("parse failed", zap.Error(err))
				return nil
			}

			if err := ingestPayload(gctx, a, *payload); err != nil {
				failed.Add(1)
				log.Error("ingest failed", zap.Error(err))
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed.Load()
}

// ingestPayload runs one document ingestion, retrying transient failures
// such as a contended entity lock.
func ingestPayload(ctx context.Context, a *app, p extractfile.Payload) error {
	result, err := resilience.DoVal(ctx, resilience.RetryConfig{
		OnRetry: resilience.RetryLogger("ingest", p.Document.ID),
	}, func(ctx context.Context) (*aggregate.IngestResult, error) {
		return a.aggregator.Ingest(ctx, p.EntityID, p.Document, p.Fields)
	})
	if err != nil {
		return err
	}

	zap.L().Info("ingested",
		zap.String("entity_id", p.EntityID),
		zap.String("document_id", p.Document.ID),
		zap.Int("accepted", result.Accepted),
		zap.Int("dropped", result.Dropped),
		zap.Int("open_items", result.OpenCount()))
	return nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
