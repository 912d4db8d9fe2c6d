// package formatter renders labeled-task snapshots as CSV, JSON and plain text and writes them to disk.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/desertthunder/lsync/internal/models"
)

// Snapshot is a point-in-time copy of a dataset's labeled tasks produced by an export job.
type Snapshot struct {
	DatasetID int64          `json:"dataset_id"`
	JobID     int64          `json:"job_id"`
	CreatedAt time.Time      `json:"created_at"`
	Count     int            `json:"count"`
	Labels    map[string]int `json:"labels"`
	Tasks     []*models.Task `json:"tasks"`
}

// NewSnapshot builds a snapshot of tasks, counting labels.
func NewSnapshot(datasetID, jobID int64, tasks []*models.Task) *Snapshot {
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return &Snapshot{
		DatasetID: datasetID,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		Count:     len(tasks),
		Labels:    LabelCounts(tasks),
		Tasks:     tasks,
	}
}

// LabelCounts tallies tasks per label. Tasks without a label are not counted.
func LabelCounts(tasks []*models.Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range tasks {
		if t.Label != nil {
			counts[*t.Label]++
		}
	}
	return counts
}

// ExportToCSV converts a Snapshot to CSV format with columns: task_id, ls_task_id, status, label, assigned_to
func ExportToCSV(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"task_id", "ls_task_id", "status", "label", "assigned_to"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, t := range s.Tasks {
		record := []string{
			strconv.FormatInt(t.ID, 10),
			optionalInt(t.LSTaskID),
			string(t.Status),
			optionalString(t.Label),
			optionalString(t.AssignedTo),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts a Snapshot to indented JSON, annotations included.
func ExportToJSON(s *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// ExportToText converts a Snapshot to a plain text summary
func ExportToText(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Dataset: %d\n", s.DatasetID)
	fmt.Fprintf(&buf, "Job: %d\n", s.JobID)
	fmt.Fprintf(&buf, "Labeled tasks: %d\n\n", len(s.Tasks))

	labels := make([]string, 0, len(s.Labels))
	for label := range s.Labels {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		fmt.Fprintf(&buf, "%s: %d\n", label, s.Labels[label])
	}

	if len(s.Tasks) > 0 {
		buf.WriteString("\n")
	}
	for i, t := range s.Tasks {
		fmt.Fprintf(&buf, "%d. task %d (ls %s) %s\n", i+1, t.ID, optionalInt(t.LSTaskID), optionalString(t.Label))
	}

	return buf.Bytes(), nil
}

// ExportFiles contains the paths of files created by [WriteExport]
type ExportFiles struct {
	CSVFile  string
	JSONFile string
}

// WriteExport writes a snapshot to {base}.csv and {base}.json, creating parent directories.
//
// Defaults to export-{job} as the base filename.
func WriteExport(s *Snapshot, baseFilepath string) (*ExportFiles, error) {
	if baseFilepath == "" {
		baseFilepath = fmt.Sprintf("export-%d", s.JobID)
	}
	if dir := filepath.Dir(baseFilepath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	csvData, err := ExportToCSV(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	csvFile := baseFilepath + ".csv"
	if err := os.WriteFile(csvFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	jsonData, err := ExportToJSON(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JSON: %w", err)
	}

	jsonFile := baseFilepath + ".json"
	if err := os.WriteFile(jsonFile, jsonData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write JSON file: %w", err)
	}

	return &ExportFiles{
		CSVFile:  csvFile,
		JSONFile: jsonFile,
	}, nil
}

func optionalInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func optionalString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
