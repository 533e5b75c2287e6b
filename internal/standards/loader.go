package standards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names a corpus encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// CorpusSource supplies raw corpus records. The external loader collaborator
// implements it; FileSource and StaticSource cover files and tests.
type CorpusSource interface {
	Records(ctx context.Context) ([]CorpusRecord, error)
}

// corpusDocument is the on-disk envelope: either a bare list or {standards: [...]}.
type corpusDocument struct {
	Standards []CorpusRecord `json:"standards" yaml:"standards"`
}

// DecodeCorpus parses a corpus in the given format.
func DecodeCorpus(r io.Reader, format Format) ([]CorpusRecord, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}

	switch format {
	case FormatJSON:
		if raw[0] == '[' {
			var recs []CorpusRecord
			if err := json.Unmarshal(raw, &recs); err != nil {
				return nil, fmt.Errorf("decode json corpus: %w", err)
			}
			return recs, nil
		}
		var doc corpusDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode json corpus: %w", err)
		}
		return doc.Standards, nil
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("decode yaml corpus: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var recs []CorpusRecord
			if err := node.Decode(&recs); err != nil {
				return nil, fmt.Errorf("decode yaml corpus: %w", err)
			}
			return recs, nil
		}
		var doc corpusDocument
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml corpus: %w", err)
		}
		return doc.Standards, nil
	default:
		return nil, fmt.Errorf("unsupported corpus format %q", format)
	}
}

// FormatFromPath infers the corpus format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// FileSource reads a corpus file on every reload.
type FileSource struct {
	Path string
}

func (f FileSource) Records(_ context.Context) ([]CorpusRecord, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer file.Close()
	return DecodeCorpus(file, FormatFromPath(f.Path))
}

// StaticSource serves a fixed record set.
type StaticSource []CorpusRecord

func (s StaticSource) Records(_ context.Context) ([]CorpusRecord, error) {
	out := make([]CorpusRecord, len(s))
	copy(out, s)
	return out, nil
}
