// Package workflow implements Temporal workflow definitions for reviewflow.
//
// The in-process poll engine stops when the host process exits. The
// workflows here cover the same ground durably: a job submitted by a session
// can be followed to completion by a Temporal worker that survives restarts.
//
// Workflows must stay deterministic:
//
//   - use workflow.Now and workflow.Sleep instead of the time package
//   - use workflow.Go instead of go statements
//   - all remote I/O goes through activities
//   - behavioural changes go behind workflow.GetVersion
//
// cmd/workflowcheck reports the first two mistakes.
package workflow
