// Package job defines the job entity, its state machine, typed handler
// definitions, and the persistence contract every backend implements.
//
// # Job Entity
//
// A [Job] is the durable record of one unit of asynchronous work. It is
// scoped to a tenant, carries an opaque input reference, and progresses
// through:
//
//	queued → processing → completed
//	queued → processing → failed → queued (retry with backoff)
//	queued → processing → failed → dead_letter
//	queued | processing | failed → cancelled (operator)
//
// A processing job is owned by exactly one worker through a time-bounded
// lease. Every transition is an atomic conditional write keyed on the
// current status (and, for worker-side writes, the lease owner), so
// racing workers, reclaimers, and operators cannot corrupt a row.
//
// Fields of note:
//   - TenantID: jobs are never visible or claimable across tenants
//   - DedupKey: at most one live job per (tenant, dedup key); a
//     duplicate enqueue returns the existing job
//   - Priority: higher values are claimed first; ties break oldest-first
//   - Attempt / MaxAttempts: the retry budget; Attempt increments
//     exactly once per claim
//   - NotBefore: earliest claim eligibility, used for retry backoff
//
// # Defining a Handler
//
// Use [Definition] with a typed handler. The input is JSON-serialized at
// enqueue time and deserialized before the handler runs. Handlers return
// an output reference on success; failures are classified retryable by
// default, or permanent when wrapped with retry.Permanent:
//
//	var Ingest = job.NewDefinition(job.TypeIngest,
//	    func(ctx context.Context, in IngestInput) (string, error) {
//	        doc, err := extractor.Run(ctx, in.SourceURI)
//	        if err != nil {
//	            return "", err // transient: retried with backoff
//	        }
//	        return "doc:" + doc.ID, nil
//	    },
//	    job.WithMaxAttempts(5),
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values and the
// per-type options recorded at registration. The set of registered types
// is the set of valid enqueue targets.
package job
