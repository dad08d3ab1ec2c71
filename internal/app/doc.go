// Package app provides the application service layer.
//
// Orchestrates use cases: starting and stopping the proctoring session, reporting its status,
// permission queries and evidence management. Sits between HTTP handlers and the pipeline
// components. Depends on small interfaces, not concrete implementations.
package app
