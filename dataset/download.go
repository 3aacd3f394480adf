// Package dataset downloads a labelled clip dataset: a catalog table lists
// the objects, an object store serves them.
package dataset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"speech-commands/speech"
	"speech-commands/tracing"
	"speech-commands/utils"

	"go.opentelemetry.io/otel/attribute"
)

// Catalog lists the dataset objects. *db.SQLiteClient satisfies it.
type Catalog interface {
	ResourceTypes(ctx context.Context, table string) ([]string, error)
	Resources(ctx context.Context, table, root, resourceType string) ([]string, error)
}

// Result counts what a download did.
type Result struct {
	Types      int `json:"types"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
}

// Downloader mirrors catalogued objects into a local folder tree.
type Downloader struct {
	Catalog Catalog
	Store   ObjectStore
}

// Download fetches every object root/<type>/<name> listed in table into the
// same relative path on disk. Existing files are kept unless force is set.
// Any catalog or store failure aborts the download with a transport error.
func (d *Downloader) Download(ctx context.Context, root, table string, force bool) (res Result, err error) {
	const op = "download dataset"
	logger := utils.GetLogger()

	ctx, span := tracing.StartSpan(ctx, "dataset.download",
		attribute.String(tracing.AttrRoot, root),
		attribute.String(tracing.AttrTable, table),
	)
	defer func() { tracing.End(span, err) }()

	if root == "" || table == "" {
		return res, speech.NewError(speech.KindTransport, op, fmt.Errorf("root and table are required"))
	}

	if err := d.Store.EnsureBucket(ctx); err != nil {
		return res, speech.NewError(speech.KindTransport, op, err)
	}

	types, err := d.Catalog.ResourceTypes(ctx, table)
	if err != nil {
		return res, speech.NewError(speech.KindTransport, op, err)
	}

	for _, resourceType := range types {
		if !safeSegment(resourceType) {
			logger.WarnContext(ctx, "skipping unsafe resource type", slog.String("type", resourceType))
			continue
		}
		res.Types++

		folder := filepath.Join(root, resourceType)
		if err := utils.CreateFolder(folder); err != nil {
			return res, speech.NewError(speech.KindTransport, op, err)
		}

		names, err := d.Catalog.Resources(ctx, table, root, resourceType)
		if err != nil {
			return res, speech.NewError(speech.KindTransport, op, err)
		}

		for _, name := range names {
			if !safeSegment(name) {
				logger.WarnContext(ctx, "skipping unsafe resource name", slog.String("name", name))
				continue
			}
			target := filepath.Join(folder, name)
			if !force && utils.FileExists(target) {
				res.Skipped++
				continue
			}

			key := path.Join(filepath.ToSlash(root), resourceType, name)
			if err := d.fetch(ctx, key, target); err != nil {
				return res, speech.NewError(speech.KindTransport, op, err)
			}
			res.Downloaded++
		}

		logger.InfoContext(ctx, "resource type downloaded",
			slog.String("type", resourceType),
			slog.Int("resources", len(names)),
		)
	}

	return res, nil
}

func (d *Downloader) fetch(ctx context.Context, key, target string) error {
	body, err := d.Store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer body.Close()

	tempPath := target + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(tempPath)
		return fmt.Errorf("copy %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, target)
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
