package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const (
	taskIDPrefix         = "tsk_"
	defaultStageDuration = 7 * 24 * time.Hour
)

// ProductionSchedulerDeps wires the production scheduler.
type ProductionSchedulerDeps struct {
	Employees     repositories.EmployeeDirectory
	Tasks         repositories.ProductionTaskRepository
	StageDuration time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
}

type productionScheduler struct {
	employees repositories.EmployeeDirectory
	tasks     repositories.ProductionTaskRepository
	duration  time.Duration
	clock     func() time.Time
	newID     func() string
}

// NewProductionScheduler constructs the scheduler.
func NewProductionScheduler(deps ProductionSchedulerDeps) (ProductionScheduler, error) {
	if deps.Employees == nil {
		return nil, errors.New("production scheduler: employee directory is required")
	}
	if deps.Tasks == nil {
		return nil, errors.New("production scheduler: task repository is required")
	}
	duration := deps.StageDuration
	if duration <= 0 {
		duration = defaultStageDuration
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &productionScheduler{
		employees: deps.Employees,
		tasks:     deps.Tasks,
		duration:  duration,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *productionScheduler) Plan(ctx context.Context, order domain.Order, lines []domain.OrderLine, stages []domain.ProductionStage) ([]domain.ProductionTask, error) {
	if len(lines) == 0 || len(stages) == 0 {
		return nil, nil
	}

	workers := make(map[domain.ProductionStage]string, len(stages))
	for _, stage := range stages {
		if domain.StageIndex(stage) < 0 {
			return nil, fmt.Errorf("%w: stage %s does not carry tasks", ErrFulfillmentInvalidInput, stage)
		}
		if _, ok := workers[stage]; ok {
			continue
		}
		worker, err := s.employees.FindActiveBySpecialization(ctx, stage)
		if err != nil {
			return nil, mapRepositoryError("employees.find_active", fmt.Sprintf("active worker for stage %s", stage), err)
		}
		workers[stage] = worker.ID
	}

	now := s.clock()
	tasks := make([]domain.ProductionTask, 0, len(lines)*len(stages))
	for _, line := range lines {
		for _, stage := range stages {
			tasks = append(tasks, domain.ProductionTask{
				ID:                  taskIDPrefix + s.newID(),
				OrderID:             order.ID,
				OrderLineID:         line.ID,
				Stage:               stage,
				Sequence:            domain.StageIndex(stage) + 1,
				AssignedWorkerID:    workers[stage],
				EstimatedStart:      now,
				EstimatedCompletion: now.Add(s.duration),
				Status:              domain.TaskStatusPending,
				CreatedAt:           now,
				UpdatedAt:           now,
			})
		}
	}
	return tasks, nil
}

func (s *productionScheduler) Schedule(ctx context.Context, order domain.Order, lines []domain.OrderLine) ([]domain.ProductionTask, error) {
	tasks, err := s.Plan(ctx, order, lines, domain.ProductionStages)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	if err := s.tasks.InsertBatch(ctx, tasks); err != nil {
		return nil, mapRepositoryError("production_tasks.insert_batch", "order "+order.ID, err)
	}
	return tasks, nil
}
