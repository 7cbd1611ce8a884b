package memory

import (
	"context"
	"sort"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/pricing"
)

var (
	_ pricing.Repository      = (*CatalogRepository)(nil)
	_ auth.Repository         = (*AuthRepository)(nil)
	_ auth.CustomerRepository = (*AuthRepository)(nil)
)

// CatalogRepository implements pricing.Repository.
type CatalogRepository struct {
	s *Store
}

// PutHostingPackage adds or replaces a hosting package.
func (r *CatalogRepository) PutHostingPackage(ctx context.Context, p pricing.HostingPackage) error {
	return r.s.view(ctx, func(st *state) error {
		st.packages[p.ID] = p
		return nil
	})
}

func (r *CatalogRepository) GetHostingPackage(ctx context.Context, id string) (*pricing.HostingPackage, error) {
	var out *pricing.HostingPackage
	err := r.s.view(ctx, func(st *state) error {
		p, ok := st.packages[id]
		if !ok {
			return pricing.ErrPackageNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *CatalogRepository) ListHostingPackages(ctx context.Context) ([]pricing.HostingPackage, error) {
	var out []pricing.HostingPackage
	err := r.s.view(ctx, func(st *state) error {
		for _, p := range st.packages {
			if p.Active {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyPrice.LessThan(out[j].MonthlyPrice) })
	return out, err
}

func (r *CatalogRepository) GetTLDPrice(ctx context.Context, tld string) (*pricing.TLDPrice, error) {
	var out *pricing.TLDPrice
	err := r.s.view(ctx, func(st *state) error {
		p, ok := st.tldPrices[pricing.NormalizeTLD(tld)]
		if !ok {
			return pricing.ErrTLDNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *CatalogRepository) ListTLDPrices(ctx context.Context) ([]pricing.TLDPrice, error) {
	var out []pricing.TLDPrice
	err := r.s.view(ctx, func(st *state) error {
		for _, p := range st.tldPrices {
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TLD < out[j].TLD })
	return out, err
}

func (r *CatalogRepository) UpsertTLDPrice(ctx context.Context, p pricing.TLDPrice) error {
	p.TLD = pricing.NormalizeTLD(p.TLD)
	return r.s.view(ctx, func(st *state) error {
		st.tldPrices[p.TLD] = p
		return nil
	})
}

// AuthRepository implements auth.Repository and auth.CustomerRepository.
type AuthRepository struct {
	s *Store
}

// PutAPIKey stores a key under its hash.
func (r *AuthRepository) PutAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	return r.s.view(ctx, func(st *state) error {
		st.apiKeys[k.KeyHash] = k
		return nil
	})
}

// PutCustomer adds or replaces a customer.
func (r *AuthRepository) PutCustomer(ctx context.Context, c auth.Customer) error {
	return r.s.view(ctx, func(st *state) error {
		st.customers[c.ID] = c
		return nil
	})
}

func (r *AuthRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var out *auth.APIKeyInfo
	err := r.s.view(ctx, func(st *state) error {
		k, ok := st.apiKeys[hash]
		if !ok {
			return auth.ErrKeyNotFound
		}
		out = &k
		return nil
	})
	return out, err
}

func (r *AuthRepository) GetCustomer(ctx context.Context, id string) (*auth.Customer, error) {
	var out *auth.Customer
	err := r.s.view(ctx, func(st *state) error {
		c, ok := st.customers[id]
		if !ok {
			return auth.ErrCustomerNotFound
		}
		out = &c
		return nil
	})
	return out, err
}
