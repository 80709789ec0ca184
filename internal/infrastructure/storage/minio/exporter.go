package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

const (
	objectPrefix      = "analyses"
	contentTypeJSON   = "application/json"
	contentTypeReport = "text/plain; charset=utf-8"
)

// ObjectKey returns the key of the JSON export of a, partitioned by day.
func ObjectKey(a *analysis.Analysis) string {
	return path.Join(objectPrefix, a.CreatedAt.UTC().Format("2006/01/02"), a.ID.String()+".json")
}

// ReportKey returns the key of the text report stored next to jsonKey.
func ReportKey(jsonKey string) string {
	return strings.TrimSuffix(jsonKey, ".json") + ".txt"
}

// ResultExporter writes analyses to object storage as a JSON document plus
// a human-readable report.
type ResultExporter struct {
	client *Client
	logger logging.Logger
}

// NewResultExporter creates an exporter over client.
func NewResultExporter(client *Client, log logging.Logger) *ResultExporter {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ResultExporter{client: client, logger: log}
}

// Export uploads a and its report and returns the JSON object key.
func (e *ResultExporter) Export(ctx context.Context, a *analysis.Analysis, sourceName string) (string, error) {
	key := ObjectKey(a)
	data, err := json.Marshal(a)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal analysis")
	}
	meta := map[string]string{
		"analysis-id":  a.ID.String(),
		"entity-count": strconv.Itoa(a.EntityCount),
		"origin":       string(a.Origin),
	}
	if err := e.put(ctx, key, data, contentTypeJSON, meta); err != nil {
		return "", err
	}
	report := []byte(analysis.RenderReport(a, sourceName))
	if err := e.put(ctx, ReportKey(key), report, contentTypeReport, meta); err != nil {
		return "", err
	}
	e.logger.Debug("Analysis exported",
		logging.String("analysis_id", a.ID.String()),
		logging.String("key", key))
	return key, nil
}

func (e *ResultExporter) put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error {
	_, err := e.client.api.PutObject(ctx, e.client.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "upload failed for "+key)
	}
	return nil
}

// Fetch downloads and decodes the JSON export at key.
func (e *ResultExporter) Fetch(ctx context.Context, key string) (*analysis.Analysis, error) {
	data, err := e.download(ctx, key)
	if err != nil {
		return nil, err
	}
	var a analysis.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode analysis")
	}
	return &a, nil
}

// FetchReport downloads the text report belonging to the JSON export key.
func (e *ResultExporter) FetchReport(ctx context.Context, key string) ([]byte, error) {
	return e.download(ctx, ReportKey(key))
}

// ReportURL returns a presigned download URL for the report.
func (e *ResultExporter) ReportURL(ctx context.Context, key string) (string, error) {
	return e.client.PresignedGetURL(ctx, ReportKey(key), 0)
}

// Delete removes both objects of an export.
func (e *ResultExporter) Delete(ctx context.Context, key string) error {
	for _, k := range []string{key, ReportKey(key)} {
		if err := e.client.api.RemoveObject(ctx, e.client.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "delete failed for "+k)
		}
	}
	return nil
}

func (e *ResultExporter) download(ctx context.Context, key string) ([]byte, error) {
	obj, err := e.client.api.GetObject(ctx, e.client.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "download failed for "+key)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.New(errors.ErrCodeNERAnalysisNotFound, "export "+key+" not found")
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "download failed for "+key)
	}
	return data, nil
}
