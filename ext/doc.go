// Package ext defines lifecycle hook interfaces and the extension
// registry that fans events out to them.
//
// An extension is any value implementing one or more hook interfaces.
// Register it once; the registry inspects which hooks it satisfies and
// caches per-hook slices so emission is a plain loop with no type
// switches on the hot path.
//
//	type auditLog struct{ w io.Writer }
//
//	func (a *auditLog) OnJobCompleted(ctx context.Context, j *job.Job) error {
//	    _, err := fmt.Fprintf(a.w, "%s completed\n", j.ID)
//	    return err
//	}
//
//	reg := ext.NewRegistry(logger)
//	reg.Register(&auditLog{w: os.Stdout})
//
// Hook errors are logged and never propagate: an extension cannot veto
// or alter a transition that has already been durably written.
package ext
