/*
Package migration manages the versioned database schema for the cue
store, built on golang-migrate with the SQL files embedded per dialect
(PostgreSQL, MySQL, SQLite).

The migrations carry the layout through its revisions: the base request
and response tables, the content-addressed file attachment tables, and
the request status column. Each revision also stamps schema_meta with
the version the store expects at startup, so a database left behind by
an older build is refused until `cueflow migrate up` has run.

Migrator is the programmatic surface; CLI wraps it with the terminal
output used by the `cueflow migrate` subcommands. The factory functions
build a Migrator straight from the application configuration.
*/
package migration
