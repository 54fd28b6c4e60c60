// Package controller wraps the split engine with bounded retries, cached
// candidate reuse, and the rollback guarantees callers rely on. It owns the
// request lifecycle: range validation, transaction tokens, attempt budgets,
// and the final commit-or-release decision.
package controller
