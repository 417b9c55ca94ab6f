package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const customersCollection = "customers"

type customerDocument struct {
	FullName       string `firestore:"fullName"`
	Email          string `firestore:"email"`
	CreditLimit    int64  `firestore:"creditLimit"`
	AccountBalance int64  `firestore:"accountBalance"`
	Tier           string `firestore:"spendingTier"`
	PaymentTerms   string `firestore:"paymentTerms,omitempty"`
}

func (d customerDocument) toDomain(id string) domain.Customer {
	tier := domain.SpendingTier(strings.ToUpper(strings.TrimSpace(d.Tier)))
	if tier == "" {
		tier = domain.SpendingTierNew
	}
	return domain.Customer{
		ID:             id,
		FullName:       strings.TrimSpace(d.FullName),
		Email:          strings.TrimSpace(d.Email),
		CreditLimit:    d.CreditLimit,
		AccountBalance: d.AccountBalance,
		Tier:           tier,
		PaymentTerms:   strings.TrimSpace(d.PaymentTerms),
	}
}

// CustomerRepository reads the CRM customer collection. Customers are owned by the CRM and never
// written here.
type CustomerRepository struct {
	base *pfirestore.BaseRepository[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		base: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection, nil, nil),
	}, nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	if r == nil || r.base == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}
