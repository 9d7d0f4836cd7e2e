// Package loader reads declarative YAML or JSON documents for create,
// update, job start and dapr component verbs.
//
// SECURITY: All file operations enforce size limits to prevent DoS attacks
// via large files. Input validation is performed at the boundary.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/merge"
)

// MaxDocumentSizeBytes is the maximum size of a document (1MB).
const MaxDocumentSizeBytes = 1 * 1024 * 1024

// StdinPath reads the document from standard input.
const StdinPath = "-"

// Errors.
var (
	ErrDocumentNotFound  = errors.New("document file not found")
	ErrDocumentTooLarge  = errors.New("document exceeds maximum size")
	ErrInvalidYAML       = errors.New("invalid YAML syntax")
	ErrInvalidFormat     = errors.New("document must be a YAML mapping")
	ErrMultipleDocuments = errors.New("document file holds more than one document")
)

// Kind selects the normalisation applied after parsing.
type Kind int

const (
	// KindRaw leaves the document as parsed.
	KindRaw Kind = iota
	// KindApp normalises a container app document.
	KindApp
	// KindJob normalises a job document.
	KindJob
)

// Loader reads documents.
type Loader struct {
	stdin  io.Reader
	logger *zap.Logger
}

// New creates a new Loader.
func New(logger *zap.Logger) *Loader {
	return &Loader{stdin: os.Stdin, logger: logger}
}

// WithStdin replaces the reader used for StdinPath.
func (l *Loader) WithStdin(r io.Reader) *Loader {
	l.stdin = r
	return l
}

// Load reads path and returns the normalised document for kind.
func (l *Loader) Load(path string, kind Kind) (map[string]any, error) {
	data, err := l.read(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data, path)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindApp:
		doc, err = merge.NormalizeAppDocument(doc)
	case KindJob:
		doc, err = merge.NormalizeJobDocument(doc)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug("Loaded document",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return doc, nil
}

func (l *Loader) read(path string) ([]byte, error) {
	if path == StdinPath {
		return readLimited(l.stdin, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, validationErr(ErrDocumentNotFound, "%s", path)
		}
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}

	// SECURITY: Check file size before reading to prevent DoS.
	if info.Size() > MaxDocumentSizeBytes {
		return nil, validationErr(ErrDocumentTooLarge, "%s (%d bytes, max %d)", path, info.Size(), MaxDocumentSizeBytes)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer file.Close()

	return readLimited(file, path)
}

func readLimited(r io.Reader, path string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSizeBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) > MaxDocumentSizeBytes {
		return nil, validationErr(ErrDocumentTooLarge, "%s (max %d bytes)", path, MaxDocumentSizeBytes)
	}
	return data, nil
}

// Parse decodes a single YAML or JSON mapping. source names the input in
// errors.
func Parse(data []byte, source string) (map[string]any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, validationErr(ErrInvalidFormat, "%s is empty", source)
		}
		return nil, validationErr(ErrInvalidYAML, "%s: %v", source, err)
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, validationErr(ErrMultipleDocuments, "%s", source)
	}

	doc, ok := normalizeValue(raw).(map[string]any)
	if !ok {
		return nil, validationErr(ErrInvalidFormat, "%s", source)
	}
	return doc, nil
}

// normalizeValue converts YAML specific shapes into JSON compatible ones:
// non-string map keys are formatted as strings.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeValue(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeValue(val)
		}
		return t
	default:
		return v
	}
}

func validationErr(sentinel error, format string, args ...any) error {
	return &apperrors.Error{
		Kind:    apperrors.KindValidation,
		Message: fmt.Sprintf("%v: %s", sentinel, fmt.Sprintf(format, args...)),
		Err:     sentinel,
	}
}
