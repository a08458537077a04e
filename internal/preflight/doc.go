// Package preflight provides readiness checks for the directories and
// external tools a conversion run depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs failures so a
//     misconfigured engine or output directory is visible before the
//     first task arrives.
//   - The CLI "carousel status" command uses individual check functions
//     (CheckDirectoryAccess, CheckNtfyFromConfig) to display system health.
//
// Each check is gated by its config toggle -- unconfigured features are skipped.
package preflight
