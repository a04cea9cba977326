package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/storage"
)

// Compile-time check that Indexer satisfies the ingestion domain interface.
var _ ingest.Indexer = (*Indexer)(nil)

// zeroVectorDim is the vector length written for failed embeddings so the row
// shape stays consistent with real vectors.
const zeroVectorDim = 768

// Indexer embeds dataset summaries and float descriptors after ingestion.
// Indexing failures are recorded as embedding_failed rows and never fail the
// ingestion job.
type Indexer struct {
	store    *storage.EmbeddingStore
	embedder Embedder
	logger   *slog.Logger
}

// NewIndexer creates an Indexer. A nil embedder disables indexing; both
// methods become no-ops.
func NewIndexer(store *storage.EmbeddingStore, embedder Embedder, logger *slog.Logger) *Indexer {
	return &Indexer{
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "search_indexer"),
	}
}

// IndexDataset embeds the dataset summary and upserts it. An embedding
// failure writes an embedding_failed row with a zero vector so the dataset
// remains visible in the catalog.
func (ix *Indexer) IndexDataset(ctx context.Context, datasetID int64) error {
	if ix.embedder == nil {
		return nil
	}

	summary, err := ix.store.GetDatasetSummary(ctx, datasetID)
	if err != nil {
		return err
	}
	if summary == "" {
		summary = fmt.Sprintf("ARGO dataset %d", datasetID)
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, []string{summary})
	if err != nil {
		ix.logger.Warn("dataset embedding failed", "dataset_id", datasetID, "error", err)

		return ix.store.UpsertDatasetEmbedding(ctx, datasetID, summary,
			make([]float64, zeroVectorDim), storage.EmbeddingStatusFailed)
	}

	return ix.store.UpsertDatasetEmbedding(ctx, datasetID, summary,
		vectors[0], storage.EmbeddingStatusIndexed)
}

// IndexFloats embeds a descriptor per float in the dataset, in batches. A
// failed batch is marked embedding_failed and later batches continue.
func (ix *Indexer) IndexFloats(ctx context.Context, datasetID int64) error {
	if ix.embedder == nil {
		return nil
	}

	descriptors, err := ix.store.ListFloatDescriptors(ctx, datasetID)
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		return nil
	}

	batchSize := ix.embedder.MaxBatchSize()
	var firstErr error

	for start := 0; start < len(descriptors); start += batchSize {
		end := start + batchSize
		if end > len(descriptors) {
			end = len(descriptors)
		}
		batch := descriptors[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = DescriptorText(d)
		}

		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			ix.logger.Warn("float embedding batch failed",
				"dataset_id", datasetID, "batch_start", start, "error", err)
			if firstErr == nil {
				firstErr = err
			}

			for i, d := range batch {
				if storeErr := ix.store.UpsertFloatEmbedding(ctx, d.FloatID, datasetID, texts[i],
					make([]float64, zeroVectorDim), storage.EmbeddingStatusFailed); storeErr != nil {
					ix.logger.Warn("failed embedding row write failed", "float_id", d.FloatID, "error", storeErr)
				}
			}

			continue
		}

		for i, d := range batch {
			if err := ix.store.UpsertFloatEmbedding(ctx, d.FloatID, datasetID, texts[i],
				vectors[i], storage.EmbeddingStatusIndexed); err != nil {
				return err
			}
		}
	}

	ix.logger.Info("floats indexed", "dataset_id", datasetID, "floats", len(descriptors))

	return firstErr
}

// DescriptorText renders the searchable description of one float.
func DescriptorText(d storage.FloatDescriptorRow) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ARGO %s float %s with %d profiles", d.FloatType, d.PlatformNumber, d.ProfileCount)

	if d.FirstCycle != nil && d.LastCycle != nil {
		fmt.Fprintf(&sb, " from %s to %s", *d.FirstCycle, *d.LastCycle)
	}
	if d.RegionName != "" {
		fmt.Fprintf(&sb, " in the %s", d.RegionName)
	} else if d.LastLatitude != nil && d.LastLongitude != nil {
		fmt.Fprintf(&sb, " last seen at %.2f, %.2f", *d.LastLatitude, *d.LastLongitude)
	}

	return sb.String()
}
