package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Check is a named component health check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// PingCheck checks a Pinger under name.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Run: p.Ping}
}

// EmbeddingCheck checks an embedding provider.
func EmbeddingCheck(e EmbeddingChecker) Check {
	return Check{Name: "embedding", Run: e.HealthCheck}
}

// Service coordinates health checks.
type Service struct {
	checks  []Check
	timeout time.Duration
}

// New creates a Service. timeout <= 0 uses DefaultCheckTimeout.
func New(timeout time.Duration, checks ...Check) *Service {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Service{checks: checks, timeout: timeout}
}

// Check runs all checks concurrently, each under its own timeout.
func (s *Service) Check(ctx context.Context) Report {
	results := make(map[string]CheckResult, len(s.checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res := CheckOK
			if err := c.Run(pctx); err != nil {
				res = CheckError
			}
			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := Healthy
	for _, v := range results {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	return Report{Status: status, Checks: results}
}
