package mentor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

const seedSystem = `You are an expert prompt engineer specializing in structured information extraction.

Write a clear, detailed prompt that guides an assistant to extract fields from text into a flat JSON object.

The prompt should:
- name the kinds of fields to look for
- describe the expected output format
- cover likely edge cases
- stay concise

Also describe each field you expect, keyed by field name.`

const refineSystem = `You are an expert prompt engineer analyzing extraction errors.

Improve the current prompt using the errors the assistant made and how earlier prompts performed. Fix what the assistant misses or misidentifies while keeping what already works.

Update the field descriptions for any field that was missed or extracted wrongly.`

func formatSeed(text string, truth model.Record, hints map[string]string) string {
	var b strings.Builder
	b.WriteString("Create a prompt for field extraction based on this example.\n\n")
	b.WriteString("SAMPLE INPUT:\n")
	b.WriteString(text)
	b.WriteString("\n\nEXPECTED OUTPUT:\n")
	b.WriteString(recordJSON(truth))
	b.WriteString("\n")
	if len(hints) > 0 {
		b.WriteString("\nCURRENT FIELD DESCRIPTIONS:\n")
		b.WriteString(formatHints(hints))
	}
	b.WriteString("\nWrite a prompt that would produce the expected output for the sample input, and explain your reasoning.")
	return b.String()
}

func formatRefine(window []model.IterationHistory, current string, hints map[string]string, maxFailures int, truncate func(string) string) string {
	var b strings.Builder
	b.WriteString("Analyze these extraction results and improve the prompt.\n\n")
	b.WriteString("CURRENT PROMPT:\n")
	b.WriteString(current)
	b.WriteString("\n\nCURRENT FIELD DESCRIPTIONS:\n")
	if len(hints) == 0 {
		b.WriteString("None.\n")
	} else {
		b.WriteString(formatHints(hints))
	}

	b.WriteString("\nHISTORY:\n")
	if len(window) == 0 {
		b.WriteString("No previous iterations.\n")
	}
	for _, entry := range window {
		formatEntry(&b, entry, maxFailures, truncate)
	}

	b.WriteString("\nWrite an improved prompt that fixes these errors. Say what you changed and why.")
	return b.String()
}

func formatEntry(b *strings.Builder, entry model.IterationHistory, maxFailures int, truncate func(string) string) {
	fmt.Fprintf(b, "\nIteration %d:\n", entry.Iteration)
	fmt.Fprintf(b, "- Accuracy: %.2f%%\n", entry.PromptAccuracy)
	fmt.Fprintf(b, "- Prompt: %s\n", entry.Prompt)
	fmt.Fprintf(b, "- Error types: %s\n", formatErrorSummary(entry.ErrorSummary))

	failed := entry.FailedPredictions
	if maxFailures > 0 && len(failed) > maxFailures {
		failed = failed[:maxFailures]
	}
	if len(failed) == 0 {
		return
	}
	fmt.Fprintf(b, "- Failed predictions (%d of %d shown):\n", len(failed), len(entry.FailedPredictions))
	for i, f := range failed {
		fmt.Fprintf(b, "  %d. Source text: %s\n", i+1, truncate(f.SourceText))
		fmt.Fprintf(b, "     Expected: %s\n", recordJSON(f.GroundTruth))
		fmt.Fprintf(b, "     Predicted: %s\n", recordJSON(f.Prediction))
	}
}

func formatHints(hints map[string]string) string {
	keys := make([]string, 0, len(hints))
	for k := range hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, hints[k])
	}
	return b.String()
}

func formatErrorSummary(summary map[string]int) string {
	if len(summary) == 0 {
		return "None"
	}
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, summary[k])
	}
	return strings.Join(parts, ", ")
}

// recordJSON renders a record as compact JSON with sorted keys.
func recordJSON(r model.Record) string {
	if r == nil {
		r = model.Record{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}
