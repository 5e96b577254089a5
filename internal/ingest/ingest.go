package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/berenice-ai/berenice/internal/graphiti"
)

// EpisodeSink receives document sections as knowledge-graph episodes.
type EpisodeSink interface {
	AddEpisode(ctx context.Context, ep graphiti.Episode) error
}

// Ingester pushes document sections into the fact store.
type Ingester struct {
	sink   EpisodeSink
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Ingester writing to sink.
func New(sink EpisodeSink, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{sink: sink, logger: logger, now: time.Now}
}

// File imports one document, returning how many sections were stored.
// Markdown and HTML are supported, chosen by extension.
func (i *Ingester) File(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}

	var sections []Section
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		sections = SplitMarkdown(data)
	case ".html", ".htm":
		sections, err = SplitHTML(strings.NewReader(string(data)))
		if err != nil {
			return 0, fmt.Errorf("parse html: %w", err)
		}
	default:
		return 0, fmt.Errorf("unsupported document type: %s", filepath.Ext(path))
	}

	return i.store(ctx, filepath.Base(path), sections)
}

func (i *Ingester) store(ctx context.Context, docName string, sections []Section) (int, error) {
	count := 0
	for _, sec := range sections {
		ep := graphiti.Episode{
			Name:              fmt.Sprintf("Doc_%s_%s", slugify(docName), sec.Key),
			Body:              sec.Body,
			Source:            graphiti.SourceText,
			SourceDescription: fmt.Sprintf("knowledge document %s", docName),
			ReferenceTime:     i.now().UTC(),
		}
		if err := i.sink.AddEpisode(ctx, ep); err != nil {
			return count, fmt.Errorf("store section %q: %w", sec.Key, err)
		}
		i.logger.Debug("section stored", "document", docName, "key", sec.Key)
		count++
	}
	return count, nil
}
