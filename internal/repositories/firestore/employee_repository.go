package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const employeesCollection = "employees"

type employeeDocument struct {
	Name           string `firestore:"name"`
	Specialization string `firestore:"specialization"`
	Active         bool   `firestore:"active"`
}

func (d employeeDocument) toDomain(id string) domain.Employee {
	return domain.Employee{
		ID:             id,
		Name:           strings.TrimSpace(d.Name),
		Specialization: domain.ProductionStage(strings.ToUpper(strings.TrimSpace(d.Specialization))),
		Active:         d.Active,
	}
}

// EmployeeRepository resolves production workers from the employee directory.
type EmployeeRepository struct {
	base *pfirestore.BaseRepository[employeeDocument]
}

var _ repositories.EmployeeDirectory = (*EmployeeRepository)(nil)

func NewEmployeeRepository(provider *pfirestore.Provider) (*EmployeeRepository, error) {
	if provider == nil {
		return nil, errors.New("employee repository requires firestore provider")
	}
	return &EmployeeRepository{
		base: pfirestore.NewBaseRepository[employeeDocument](provider, employeesCollection, nil, nil),
	}, nil
}

// FindActiveBySpecialization returns the active employee with the lowest document id for stage so
// repeated scheduling picks the same worker.
func (r *EmployeeRepository) FindActiveBySpecialization(ctx context.Context, stage domain.ProductionStage) (domain.Employee, error) {
	if r == nil || r.base == nil {
		return domain.Employee{}, errors.New("employee repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("specialization", "==", string(stage)).
			Where("active", "==", true).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(1)
	})
	if err != nil {
		return domain.Employee{}, err
	}
	if len(docs) == 0 {
		return domain.Employee{}, pfirestore.NotFound("employees.find_active", "no active employee for stage %s", stage)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}
