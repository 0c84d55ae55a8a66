// Package core defines the shared language of the FeatureFactory system.
//
// This package contains:
//   - Domain entities (Problem, Contributor, Feature, Dataset, Column)
//   - Service interfaces (Ledger)
//   - The failure taxonomy shared by executor, scorer, gate and ledger
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
