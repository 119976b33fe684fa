// Package internal contains the core implementation packages for anchor.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the anchor widget engine.
package internal
