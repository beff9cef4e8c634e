package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/rows"
)

const contentTypeJSONLines = "application/x-ndjson"

// ResultConfig configures a ResultWriter
type ResultConfig struct {
	// Prefix is the virtual directory results are written under
	Prefix string `json:"prefix,omitempty"`

	// Session names the result blob. Empty generates one
	Session string `json:"session,omitempty"`

	// Metadata is attached to the blob next to the object count
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ApplyDefaults sets default values for unset fields
func (c *ResultConfig) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "results"
	}
	if c.Session == "" {
		c.Session = uuid.New().String()
	}
}

// ResultPath returns the blob path of a session's results.
func ResultPath(prefix, session string) string {
	return path.Join(prefix, session, "objects.jsonl")
}

// ResultWriter is a stream consumer that collects objects as JSON lines and
// uploads them as one blob when the stream completes.
type ResultWriter struct {
	client BlobStorageClient
	cfg    ResultConfig
	logger *zap.Logger

	mu      sync.Mutex
	buf     bytes.Buffer
	count   int64
	dropped int64
	url     string
}

// NewResultWriter creates a writer uploading through client.
func NewResultWriter(client BlobStorageClient, cfg ResultConfig, logger *zap.Logger) (*ResultWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("blob client is required")
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultWriter{client: client, cfg: cfg, logger: logger.With(zap.String("session", cfg.Session))}, nil
}

// Offer implements stream.Consumer. It never refuses intake.
func (w *ResultWriter) Offer(obj any) bool {
	line, err := json.Marshal(obj)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.dropped++
		w.logger.Error("object not encodable", zap.Error(err))
		return true
	}
	w.buf.Write(line)
	w.buf.WriteByte('\n')
	w.count++
	return true
}

// Complete implements stream.Completer by uploading the collected lines.
func (w *ResultWriter) Complete(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	meta := make(map[string]string, len(w.cfg.Metadata)+2)
	for k, v := range w.cfg.Metadata {
		meta[k] = v
	}
	meta["session"] = w.cfg.Session
	meta["objects"] = strconv.FormatInt(w.count, 10)

	blobPath := w.Path()
	url, err := w.client.Upload(ctx, blobPath, w.buf.Bytes(), contentTypeJSONLines, meta)
	if err != nil {
		return fmt.Errorf("upload results: %w", err)
	}
	w.url = url
	w.logger.Info("results uploaded",
		zap.String("blob_path", blobPath),
		zap.Int64("objects", w.count),
		zap.Int("size_bytes", w.buf.Len()))

	if w.dropped > 0 {
		return derrors.NewError(derrors.CodePublishFailed,
			fmt.Sprintf("%d objects could not be encoded", w.dropped), derrors.ErrPublishFailed)
	}
	return nil
}

// Path returns the blob path results are written to.
func (w *ResultWriter) Path() string { return ResultPath(w.cfg.Prefix, w.cfg.Session) }

// URL returns the uploaded blob URL, empty before Complete succeeded.
func (w *ResultWriter) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.url
}

// Count returns how many objects were collected.
func (w *ResultWriter) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// OpenResults downloads a results blob and reads it back as JSON rows, so
// stored objects can be grouped again.
func OpenResults(ctx context.Context, client BlobStorageClient, reference string) (rows.Source, error) {
	data, err := client.Download(ctx, reference)
	if err != nil {
		return nil, err
	}
	return rows.NewJSONLinesSource(bytes.NewReader(data)), nil
}
