// Package audithook bridges job lifecycle events to an audit trail
// backend. Each lifecycle hook emits a structured audit event through an
// injected [Recorder], so compliance logging stays decoupled from
// scheduling.
//
// Register it like any other hook:
//
//	svc, err := engine.New(st, cfg,
//	    engine.WithHook(audithook.New(recorder,
//	        audithook.WithActions(audithook.ActionJobFailed, audithook.ActionJobDLQ),
//	    )),
//	)
package audithook
