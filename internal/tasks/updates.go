package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a job run.
//
// Used to send real-time updates to the CLI for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	LoadJob Phase = iota
	Baseline
	BulkImport
	PollImport
	DiscoverTasks
	RecordTasks
	FetchAnnotations
	WriteSnapshot
	Finished
)

func (p Phase) String() string {
	switch p {
	case LoadJob:
		return "load_job"
	case Baseline:
		return "baseline"
	case BulkImport:
		return "bulk_import"
	case PollImport:
		return "poll_import"
	case DiscoverTasks:
		return "discover_tasks"
	case RecordTasks:
		return "record_tasks"
	case FetchAnnotations:
		return "fetch_annotations"
	case WriteSnapshot:
		return "write_snapshot"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

func loadJobUpdate(jobID, datasetID int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadJob,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Job %d started for dataset %d", jobID, datasetID),
	}
}

func baselineUpdate(maxID int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Baseline,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Highest existing task id: %d", maxID),
		Data:    maxID,
	}
}

func bulkImportUpdate(items int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BulkImport,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Importing %d items...", items),
	}
}

func pollImportUpdate(importID int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PollImport,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Waiting for import %d to finish...", importID),
	}
}

func discoverTasksUpdate(after int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DiscoverTasks,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Listing tasks created after id %d...", after),
	}
}

func recordTasksUpdate(ids []int64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RecordTasks,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Recording %d imported tasks", len(ids)),
		Data:    ids,
	}
}

func fetchAnnotationsUpdate(step, total int, lsTaskID int64, labeled bool) ProgressUpdate {
	state := "no annotations"
	if labeled {
		state = "labeled"
	}
	return ProgressUpdate{
		Phase:   FetchAnnotations,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] task %d: %s", step, total, lsTaskID, state),
	}
}

func writeSnapshotUpdate(locations []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteSnapshot,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Snapshot written (%d files)", len(locations)),
		Data:    locations,
	}
}

func finishedUpdate(result *Result) ProgressUpdate {
	msg := result.Message
	if !result.OK {
		msg = result.Error
	}
	return ProgressUpdate{
		Phase:   Finished,
		Step:    1,
		Total:   1,
		Message: msg,
		Data:    result,
	}
}
