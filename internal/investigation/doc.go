// Package investigation provides the business boundary for Warden's alert
// investigation pipeline. It defines the shared investigation State and the
// merge policy applied to stage updates, the Stage contract, the Router that
// decides loop-backs, the Workflow engine that drives the stages, the Service
// that owns entry points and lifecycle, and the collaborator interfaces
// (Store, Completer, Guard, Notifier).
package investigation
