package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFilter indicates a metadata filter key outside the
	// declared allow-set. Unknown keys are a client error, never silently
	// ignored: dropping a filter would return results the caller believed
	// were scoped out.
	ErrUnsupportedFilter = errors.New("unsupported filter key")

	// ErrInvalidAccessLevel indicates a search request with an undefined
	// clearance tier.
	ErrInvalidAccessLevel = errors.New("invalid access level")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// store's configured embedding dimension. Fatal at ingestion time.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// allowedFilterKeys is the set of metadata keys a caller may filter on.
// All filter values are compared as strings.
var allowedFilterKeys = map[string]struct{}{
	"department":  {},
	"source_path": {},
	"doc_type":    {},
}

// validateRequest checks filter keys and the access level of a search
// request. Shared by all backends so rejection happens before any retrieval.
func validateRequest(req SearchRequest) error {
	if !req.MaxAccessLevel.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidAccessLevel, int(req.MaxAccessLevel))
	}
	for key := range req.Filters {
		if _, ok := allowedFilterKeys[key]; !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedFilter, key)
		}
	}
	return nil
}
