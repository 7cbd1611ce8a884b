// Package auth holds API key identities and the customer directory they
// resolve to.
package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeOrders = "orders"
	ScopeAdmin  = "admin"
)

var (
	ErrKeyNotFound      = errors.New("api key not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
// CustomerID is empty for staff keys.
type APIKeyInfo struct {
	ID         string
	KeyHash    string
	Name       string
	Scopes     []string
	CustomerID string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Customer is a contact record in the customer directory.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CustomerRepository resolves customers by id.
type CustomerRepository interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
}
