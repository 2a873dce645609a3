// Package dataset loads labeled samples from JSONL or JSON files.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

const maxLineBytes = 16 << 20

// rawSample is one dataset row. Ground truth comes from ground_truth when
// present, otherwise from the privacy_mask span list.
type rawSample struct {
	SourceText  string         `json:"source_text"`
	GroundTruth map[string]any `json:"ground_truth"`
	PrivacyMask []maskSpan     `json:"privacy_mask"`
}

type maskSpan struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Load reads up to limit samples from path. A .jsonl file holds one object
// per non-blank line; a .json file holds an array of objects or a single
// object. limit <= 0 loads everything.
func Load(path string, limit int) ([]model.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	// Strip a UTF-8 BOM and transcode UTF-16 files that carry one.
	r := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	var samples []model.Sample
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl":
		samples, err = readJSONL(r, limit)
	case ".json":
		samples, err = readJSON(r, limit)
	default:
		return nil, eris.Errorf("dataset: unsupported file format %q", ext)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}

	zap.L().Info("dataset: loaded samples",
		zap.String("path", path),
		zap.Int("samples", len(samples)),
	)
	return samples, nil
}

func readJSONL(r io.Reader, limit int) ([]model.Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var samples []model.Sample
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if limit > 0 && len(samples) >= limit {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s, err := decodeSample(line)
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", lineNo)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "scan")
	}
	return samples, nil
}

func readJSON(r io.Reader, limit int) ([]model.Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "read")
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] != '[' {
		s, err := decodeSample(data)
		if err != nil {
			return nil, err
		}
		return []model.Sample{s}, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrap(err, "decode array")
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	samples := make([]model.Sample, 0, len(rows))
	for i, row := range rows {
		s, err := decodeSample(row)
		if err != nil {
			return nil, eris.Wrapf(err, "element %d", i)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func decodeSample(data []byte) (model.Sample, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw rawSample
	if err := dec.Decode(&raw); err != nil {
		return model.Sample{}, eris.Wrap(err, "decode sample")
	}

	truth := model.Record{}
	switch {
	case raw.GroundTruth != nil:
		truth = model.RecordFromMap(raw.GroundTruth)
	case len(raw.PrivacyMask) > 0:
		truth = fromPrivacyMask(raw.PrivacyMask)
	}
	return model.Sample{SourceText: raw.SourceText, GroundTruth: truth}, nil
}

// fromPrivacyMask keys each span by its lowercased label. The first span of
// a label wins.
func fromPrivacyMask(spans []maskSpan) model.Record {
	m := make(map[string]any, len(spans))
	for _, s := range spans {
		label := strings.ToLower(strings.TrimSpace(s.Label))
		if label == "" {
			continue
		}
		if _, seen := m[label]; seen {
			continue
		}
		m[label] = s.Value
	}
	return model.RecordFromMap(m)
}
