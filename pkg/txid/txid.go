// Package txid generates transaction identifiers.
package txid

import "github.com/google/uuid"

// New returns a fresh random transaction id.
func New() string {
	return uuid.NewString()
}
