/*
Package database manages the GORM connection pool: limits, idle
recycling, health checks, and transaction helpers.

PoolManager wraps an open *gorm.DB and its underlying sql.DB, applies
the PoolConfig limits, and runs a background health loop that pings the
database and publishes pool occupancy to the metrics collector.

WithTransaction runs a callback in a single transaction.
WithTransactionRetry adds exponential backoff for transient failures
such as deadlocks, serialization errors, and dropped connections.
*/
package database
