package api

import (
	"encoding/json"
	"math"
	"time"

	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/frame"
	"txn-features/pkg/api"

	"github.com/google/uuid"
)

func convertRun(r database.PipelineRun) api.PipelineRun {
	run := api.PipelineRun{
		Id:              r.Id,
		Name:            r.Name,
		Status:          r.Status,
		SyntheticSource: r.SyntheticSource,
		ReferenceSource: r.ReferenceSource,
		Shuffle:         r.Shuffle,
		Rows:            r.Rows,
		Features:        r.Features,
		OutputBucket:    r.OutputBucket.String,
		OutputKey:       r.OutputKey.String,
		CreationTime:    r.CreationTime,
	}
	if r.CompletionTime.Valid {
		run.CompletionTime = &r.CompletionTime.Time
	}
	for _, e := range r.Errors {
		run.Errors = append(run.Errors, e.Error)
	}
	return run
}

func convertRuns(rs []database.PipelineRun) []api.PipelineRun {
	runs := make([]api.PipelineRun, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}

func convertJob(j database.FeatureJob) api.FeatureJob {
	job := api.FeatureJob{
		Id:                 j.Id,
		RunId:              j.RunId,
		Status:             j.Status,
		SourceBucket:       j.SourceBucket,
		DestBucket:         j.DestBucket,
		DestPrefix:         j.DestPrefix,
		Filter:             j.RowFilter.String,
		SucceededFileCount: j.SucceededFileCount,
		FailedFileCount:    j.FailedFileCount,
		TotalFileCount:     j.TotalFileCount,
		RowCount:           j.RowCount,
		CreationTime:       j.CreationTime,
	}
	if len(j.SourceKeys) > 0 {
		_ = json.Unmarshal(j.SourceKeys, &job.SourceKeys)
	}
	if j.StartTime.Valid {
		job.StartTime = &j.StartTime.Time
	}
	if j.CompletionTime.Valid {
		job.CompletionTime = &j.CompletionTime.Time
	}
	for _, e := range j.Errors {
		job.Errors = append(job.Errors, api.JobError{Object: e.Object, Error: e.Error})
	}
	return job
}

func convertJobs(js []database.FeatureJob) []api.FeatureJob {
	jobs := make([]api.FeatureJob, 0, len(js))
	for _, j := range js {
		jobs = append(jobs, convertJob(j))
	}
	return jobs
}

func transactionRecord(t api.Transaction) frame.Record {
	rec := frame.Record{}
	if t.Timestamp != nil {
		rec[core.TimestampColumn] = *t.Timestamp
	}
	if t.CustomerId != nil {
		rec[core.CustomerColumn] = *t.CustomerId
	}
	if t.Amount != nil {
		rec[core.SyntheticAmountColumn] = *t.Amount
	}
	if t.ReferenceAmount != nil {
		rec[core.ReferenceAmountColumn] = *t.ReferenceAmount
	}
	if t.Category != nil {
		rec[core.SyntheticCategoryColumn] = *t.Category
	}
	if t.Status != nil {
		rec[core.StatusColumn] = *t.Status
	}
	return rec
}

func transactionRecords(ts []api.Transaction) []frame.Record {
	records := make([]frame.Record, 0, len(ts))
	for _, t := range ts {
		records = append(records, transactionRecord(t))
	}
	return records
}

func convertFeatureTable(runId uuid.UUID, t *frame.Table) api.FeatureTable {
	cols := t.Columns()
	out := api.FeatureTable{
		RunId:   runId,
		Columns: t.Names(),
		Rows:    make([][]any, t.Rows()),
	}

	for i := range out.Rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			switch {
			case c.IsMissing(i):
				row[j] = nil
			case c.Kind == frame.Timestamp:
				row[j] = c.Times[i].Format(time.RFC3339)
			case c.Kind == frame.String:
				row[j] = c.Strings[i]
			default:
				if v := c.Float(i); !math.IsNaN(v) {
					row[j] = v
				}
			}
		}
		out.Rows[i] = row
	}
	return out
}
