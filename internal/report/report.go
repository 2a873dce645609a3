package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

// Report is the exported document of a finished run.
type Report struct {
	RunID           string                     `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Timestamp       time.Time                  `json:"timestamp" yaml:"timestamp"`
	TotalIterations int                        `json:"total_iterations" yaml:"total_iterations"`
	BestAccuracy    float64                    `json:"best_accuracy" yaml:"best_accuracy"`
	BestPrompt      string                     `json:"best_prompt" yaml:"best_prompt"`
	Metrics         *Metrics                   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Results         []model.OptimizationResult `json:"results" yaml:"results"`
	Failures        []model.FailedPrediction   `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// New builds a report from results. failures are the failed predictions of
// the last round, if any.
func New(runID string, results []model.OptimizationResult, failures []model.FailedPrediction) *Report {
	r := &Report{
		RunID:           runID,
		Timestamp:       time.Now().UTC(),
		TotalIterations: len(results),
		Results:         results,
		Failures:        failures,
	}
	if r.Results == nil {
		r.Results = []model.OptimizationResult{}
	}
	if m, ok := Summarize(results); ok {
		r.Metrics = &m
		r.BestAccuracy = m.BestAccuracy
		r.BestPrompt, _ = BestPrompt(results)
	}
	return r
}

// Write saves the report in the format implied by the path's extension.
func (r *Report) Write(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return r.WriteJSON(path)
	case ".yaml", ".yml":
		return r.WriteYAML(path)
	case ".xlsx":
		return r.WriteXLSX(path)
	default:
		return eris.Errorf("report: unsupported output format %q", filepath.Ext(path))
	}
}

// WriteJSON saves the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "report: marshal json")
	}
	return writeFile(path, data)
}

// WriteYAML saves the report as YAML.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "report: marshal yaml")
	}
	return writeFile(path, data)
}

var resultHeader = []string{"Iteration", "Accuracy", "Correct", "Total", "Prompt", "Field Descriptions"}

// WriteXLSX saves the report as a workbook with a results sheet, a summary
// sheet and, when present, a failures sheet.
func (r *Report) WriteXLSX(path string) error {
	f := xlsx.NewFile()

	results, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "report: add results sheet")
	}
	addRow(results, resultHeader...)
	for _, res := range r.Results {
		hints, _ := json.Marshal(res.FieldDescriptions)
		row := results.AddRow()
		row.AddCell().SetInt(res.Iteration)
		row.AddCell().SetFloatWithFormat(res.Accuracy, "0.00%")
		row.AddCell().SetInt(res.CorrectSamples)
		row.AddCell().SetInt(res.TotalSamples)
		row.AddCell().SetString(res.Prompt)
		row.AddCell().SetString(string(hints))
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addRow(summary, "Run ID", r.RunID)
	addRow(summary, "Timestamp", r.Timestamp.Format(time.RFC3339))
	addRow(summary, "Total iterations", strconv.Itoa(r.TotalIterations))
	addRow(summary, "Best accuracy", percent(r.BestAccuracy))
	addRow(summary, "Best prompt", r.BestPrompt)

	if len(r.Failures) > 0 {
		failures, err := f.AddSheet("Failures")
		if err != nil {
			return eris.Wrap(err, "report: add failures sheet")
		}
		addRow(failures, "Source Text", "Expected", "Predicted")
		for _, fp := range r.Failures {
			expected, _ := json.Marshal(fp.GroundTruth)
			predicted, _ := json.Marshal(fp.Prediction)
			addRow(failures, fp.SourceText, string(expected), string(predicted))
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// LoadJSON reads a report previously written by WriteJSON.
func LoadJSON(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: read %s", path)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "report: decode %s", path)
	}
	return &r, nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "report: create dir %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}
