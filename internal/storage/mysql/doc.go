// Package mysql holds the shared MySQL plumbing: opening a tuned connection
// pool and applying the embedded schema migrations from deploy/migrations.
// Stores that persist domain records live with their domain packages and
// build on these helpers.
package mysql
