package aggregate

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ExtractionLoader reads persisted per-document extractions.
type ExtractionLoader interface {
	LoadExtraction(ctx context.Context, filename string) (common.DocumentExtraction, error)
}

// LoadDocuments loads the extractions named in filenames concurrently and
// returns them in the order of filenames. Extractions that are missing or
// unreadable are logged and reported in skipped; they never fail the load.
// Only a canceled context returns an error.
func LoadDocuments(
	ctx context.Context,
	loader ExtractionLoader,
	filenames []string,
	concurrency int,
) ([]common.DocumentExtraction, []string, error) {
	if concurrency <= 0 {
		concurrency = 8
	}

	loaded := make([]*common.DocumentExtraction, len(filenames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, name := range filenames {
		g.Go(func() error {
			doc, err := loader.LoadExtraction(gctx, name)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logger.Warn("Skipping extraction", "file", name, "err", err)
				return nil
			}
			loaded[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	docs := make([]common.DocumentExtraction, 0, len(filenames))
	var skipped []string
	for i, d := range loaded {
		if d == nil {
			skipped = append(skipped, filenames[i])
			continue
		}
		docs = append(docs, *d)
	}
	return docs, skipped, nil
}
