// Package domain defines the core proctoring types and interfaces.
//
// Concept-oriented files (anomaly.go, media.go, permission.go, snapshot.go, etc.) hold shared
// types and the contracts that adapters implement. No implementation code - just contracts.
package domain
