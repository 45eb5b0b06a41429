// Package core provides the business logic of the stock import pipeline.
//
// The package has no transport dependencies; the HTTP layer, the CLI and
// tests all drive it through [Service].
//
// # Datasets
//
// Datasets are registered at init time using [Register]. Each
// [DatasetDefinition] carries the field specs used for detection and row
// validation plus the converter the storage layer uses to build values:
//
//	core.Register(core.DatasetDefinition{
//	    Info: core.DatasetInfo{Key: job.DatasetProviders, Table: "providers", UniqueKey: []string{"code"}},
//	    FieldSpecs: []core.FieldSpec{
//	        {Name: "code", Type: core.FieldText, Required: true},
//	        {Name: "email", Type: core.FieldEmail},
//	    },
//	    Convert: convertProvider,
//	})
//
// # Submission
//
// [Service.Submit] picks the transport with a [job.Selector]. Small files
// are validated and written inline and the caller gets a [SyncResult].
// Larger files become an [job.ImportJob] in the [JobRegistry] and run on the
// [ExecutorPool]; callers follow them with [Service.Get] or
// [Service.Subscribe].
//
// # Job lifecycle
//
// An [Executor] holds the job's [JobLease] while it runs. It validates the
// file, then applies rows in batches. Every batch becomes one [job.Delta]
// in the registry, and the registry's change hook publishes the new
// snapshot through the [Broadcaster]. Cancellation is checked between
// batches only. Terminal jobs are kept for the retention window, then
// removed by [Service.StartSweeper].
//
// # Error handling
//
// Failures are sentinel errors wrapped with context. [MapError] and
// [HTTPStatus] turn them into user messages with support codes:
//
//   - IMP001-IMP099: import request errors
//   - JOB001-JOB099: job lifecycle errors
//   - FILE001-FILE099: file errors
//   - DB001-DB099: storage errors
package core
