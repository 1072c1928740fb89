package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/orgrag/internal/chunker"
	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/fyrsmithlabs/orgrag/internal/extract"
	"github.com/fyrsmithlabs/orgrag/internal/sanitize"
	"github.com/fyrsmithlabs/orgrag/internal/scraper"
	"github.com/fyrsmithlabs/orgrag/internal/vectorindex"
	"go.uber.org/zap"
)

// IngestDirectory ingests the supported files directly inside dir.
// Subdirectories are not descended into. Each file is uploaded to the
// tenant's blob container under its own name before extraction; files
// that fail to read or extract are skipped and the batch continues.
func (p *Pipeline) IngestDirectory(ctx context.Context, tenant, dir string, size, overlap int) (*Result, error) {
	name, err := p.precheck(ctx, tenant, size, overlap)
	if err != nil {
		return nil, err
	}
	if p.deps.Blobs == nil {
		return nil, fmt.Errorf("%w: directory ingestion needs a blob store", config.ErrConfiguration)
	}

	abs, err := p.checkDirectory(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	if _, err := p.deps.Blobs.EnsureContainer(ctx, name); err != nil {
		return nil, fmt.Errorf("%w: ensuring container %s: %w", ErrUpstream, name, err)
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		filename := e.Name()
		ext := extract.Ext(filename)
		if !extract.Supported(ext) {
			p.logger.Debug("ignoring unsupported file",
				zap.String("tenant", tenant),
				zap.String("file", filename),
			)
			continue
		}

		path := filepath.Join(abs, filename)
		item := Item{
			Provenance: filename,
			Format:     ext,
			BlobName:   filename,
			Source:     SourceLocalFile,
			Title:      filename,
			Metadata: map[string]any{
				"filename":       filename,
				"filepath":       path,
				"blob_name":      filename,
				"file_extension": ext,
			},
		}

		data, err := os.ReadFile(path)
		if err != nil {
			item.SkipReason = fmt.Sprintf("reading file: %v", err)
			items = append(items, item)
			continue
		}
		if err := p.deps.Blobs.Upload(ctx, name, filename, data); err != nil {
			return nil, fmt.Errorf("%w: uploading %s: %w", ErrUpstream, filename, err)
		}
		item.Raw = data
		items = append(items, item)
	}

	p.logger.Info("ingesting directory",
		zap.String("tenant", tenant),
		zap.String("directory", abs),
		zap.Int("files", len(items)),
	)

	return p.Ingest(ctx, tenant, Batch{
		Items:             items,
		ChunkSize:         size,
		Overlap:           overlap,
		SourceName:        "Batch Processing - " + filepath.Base(abs),
		SourceDescription: "Files processed from directory: " + dir,
		Configuration: map[string]any{
			"directory_path":  dir,
			"processing_type": "batch_directory",
		},
		ProcessedKey: "processed_files",
	})
}

// IngestURL scrapes startURL to completion and ingests the pages. A scrape
// that yields no pages fails with ErrNoContent.
func (p *Pipeline) IngestURL(ctx context.Context, tenant, startURL string, size, overlap int) (*Result, error) {
	if _, err := p.precheck(ctx, tenant, size, overlap); err != nil {
		return nil, err
	}
	if p.deps.Scraper == nil {
		return nil, fmt.Errorf("%w: web ingestion needs a scraper", config.ErrConfiguration)
	}

	pages, err := p.deps.Scraper.Scrape(ctx, startURL)
	if err != nil {
		if errors.Is(err, scraper.ErrInvalidURL) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scraping %s: %w", ErrUpstream, startURL, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoContent, startURL)
	}

	items := make([]Item, len(pages))
	for i, page := range pages {
		title := page.Title
		if title == "" {
			title = "No Title"
		}
		items[i] = Item{
			Provenance: page.URL,
			Text:       page.Content,
			BlobName:   sanitize.VirtualBlobName(page.URL),
			Source:     SourceWebScraping,
			Title:      title,
			Metadata: map[string]any{
				"url":              page.URL,
				"title":            title,
				"scraped_metadata": page.Metadata,
			},
		}
	}

	return p.Ingest(ctx, tenant, Batch{
		Items:             items,
		ChunkSize:         size,
		Overlap:           overlap,
		SourceName:        "Web Scraping - " + p.now().Format("2006-01-02 15:04"),
		SourceDescription: "Website content scraped and processed",
		Configuration: map[string]any{
			"processing_type": "web_scraping",
			"start_url":       startURL,
		},
		ProcessedKey: "processed_pages",
	})
}

// checkDirectory returns the absolute form of dir. With allowed roots
// configured, dir must resolve, symlinks followed, inside one of them.
func (p *Pipeline) checkDirectory(dir string) (string, error) {
	abs, err := sanitize.ValidatePath(dir, "")
	if err != nil {
		return "", err
	}
	if len(p.allowedDirs) == 0 {
		return abs, nil
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("reading directory %s: %w", dir, err)
	}
	for _, root := range p.allowedDirs {
		if r, err := filepath.EvalSymlinks(root); err == nil {
			root = r
		}
		if _, err := sanitize.ValidatePath(resolved, root); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s is outside the allowed ingest directories", sanitize.ErrPathTraversal, dir)
}

// precheck validates the request and confirms the tenant has an index
// before any front end touches the blob store or the network.
func (p *Pipeline) precheck(ctx context.Context, tenant string, size, overlap int) (string, error) {
	name, err := p.resolve(ctx, tenant)
	if err != nil {
		return "", err
	}
	if err := (chunker.Config{Size: size, Overlap: overlap}).Validate(); err != nil {
		return "", err
	}
	exists, err := p.deps.Index.IndexExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: checking index %s: %w", ErrUpstream, name, err)
	}
	if !exists {
		return "", fmt.Errorf("%w: tenant %q has no index %s, create the tenant first",
			vectorindex.ErrIndexNotFound, tenant, name)
	}
	return name, nil
}

func (p *Pipeline) resolve(ctx context.Context, tenant string) (string, error) {
	if p.deps.Namespaces != nil {
		return p.deps.Namespaces.Resolve(ctx, tenant)
	}
	return sanitize.ValidateTenantID(tenant)
}
