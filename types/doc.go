// Package types provides core types shared across the retrieval subsystem.
// This package has ZERO dependencies on other packages in this module to
// avoid circular imports. All other packages should import types from here.
package types
