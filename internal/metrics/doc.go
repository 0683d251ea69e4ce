/*
Package metrics provides Prometheus-based metrics collection for the
rendezvous flow.

# Overview

The package registers its metrics through a single Collector, using
promauto against an injectable Registerer so tests can isolate their own
registries. All metrics share one namespace and are grouped by concern.

# Core types

  - Collector: holds the Counter, Histogram and Gauge instruments and
    exposes one recording method per event of interest.

# Instruments

  - Request flow: requests created, waits resolved per outcome, wait
    duration histogram, pending-request gauge.
  - Binding: synthetic cancellations that lost the race to a genuine
    response.
  - Console: responses written per kind, attachment files and bytes
    ingested, content-hash deduplication hits.
  - Database: open/idle connection gauges per backend.
*/
package metrics
