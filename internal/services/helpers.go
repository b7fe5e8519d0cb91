package services

import (
	"context"
	"strings"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// normalizeEmail lower-cases and trims an address for hashing and lookups.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeTaxID upper-cases and trims a tax identifier before validation
// and uniqueness checks so formatting differences cannot duplicate companies.
func normalizeTaxID(taxID string) string {
	return strings.ToUpper(strings.TrimSpace(taxID))
}
