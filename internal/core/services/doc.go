// Package services contains the core application logic: the sync
// orchestrator (the incremental pipeline engine), the default policy
// filter and the background scheduler. Services depend only on domain
// types and ports, never on concrete adapters.
package services
