package report

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSONLSink appends one JSON record per line. Append-only so a crashed run
// leaves a readable file.
type JSONLSink struct {
	path string
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &JSONLSink{path: path}, nil
}

func (s *JSONLSink) Emit(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (s *JSONLSink) Close() error { return nil }
