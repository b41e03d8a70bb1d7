package postman

import "github.com/google/uuid"

// IDFunc supplies ids for new collections, folders and requests.
// Injected so tests can use deterministic ids.
type IDFunc func() string

// RandomID is the default IDFunc.
func RandomID() string {
	return uuid.New().String()
}
