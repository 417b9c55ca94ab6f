package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// ReadinessProbe reports whether the backing services can take traffic.
type ReadinessProbe interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// DependencyCheck probes one backing service. Optional dependencies only degrade the report when
// they fail; required ones mark it as error.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// ReadinessOption customises a probe.
type ReadinessOption func(*dependencyProbe)

// WithProbeTimeout overrides the timeout used by checks that do not set their own.
func WithProbeTimeout(timeout time.Duration) ReadinessOption {
	return func(p *dependencyProbe) {
		if timeout > 0 {
			p.defaultTimeout = timeout
		}
	}
}

// WithProbeClock injects the clock used for latency and timestamps.
func WithProbeClock(clock func() time.Time) ReadinessOption {
	return func(p *dependencyProbe) {
		if clock != nil {
			p.now = clock
		}
	}
}

type dependencyProbe struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ ReadinessProbe = (*dependencyProbe)(nil)

// NewReadinessProbe validates the check set up front so Collect never fails on configuration.
func NewReadinessProbe(checks []DependencyCheck, opts ...ReadinessOption) (ReadinessProbe, error) {
	if len(checks) == 0 {
		return nil, errors.New("readiness probe: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, fmt.Errorf("readiness probe: check %d missing name", i)
		}
		if check.Check == nil {
			return nil, fmt.Errorf("readiness probe: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("readiness probe: duplicate dependency %s", name)
		}
		seen[name] = struct{}{}
		checks[i].Name = name
	}

	probe := &dependencyProbe{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(probe)
		}
	}
	return probe, nil
}

// Collect runs every check concurrently and folds the results into one report.
func (p *dependencyProbe) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("readiness probe: context is required")
	}

	results := make([]domain.HealthCheck, len(p.checks))
	var wg sync.WaitGroup
	wg.Add(len(p.checks))
	for i := range p.checks {
		go func(i int) {
			defer wg.Done()
			results[i] = p.run(ctx, p.checks[i])
		}(i)
	}
	wg.Wait()

	report := domain.HealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.HealthCheck, len(results)),
		GeneratedAt: p.now(),
	}
	for i, result := range results {
		report.Checks[p.checks[i].Name] = result
		switch result.Status {
		case domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if report.Status == domain.HealthStatusOK {
				report.Status = domain.HealthStatusDegraded
			}
		}
	}
	return report, nil
}

func (p *dependencyProbe) run(ctx context.Context, check DependencyCheck) domain.HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(checkCtx)
	end := p.now()

	result := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	if err == nil {
		return result
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	default:
		result.Detail = err.Error()
	}
	if check.Optional {
		result.Status = domain.HealthStatusDegraded
	} else {
		result.Status = domain.HealthStatusError
	}
	return result
}
