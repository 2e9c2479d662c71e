package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return OK("database")
	})
	r.Register("audit_ledger", func(_ context.Context) Status {
		return OK("audit_ledger")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return OK("database")
	})
	r.Register("audit_ledger", func(_ context.Context) Status {
		return Unhealthy("audit_ledger", errors.New("chain broken at sequence 7"))
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "chain broken at sequence 7" {
		t.Fatalf("unexpected detail %q", statuses[1].Detail)
	}
}

func TestRegistryChecksGetDeadline(t *testing.T) {
	r := NewRegistry()
	r.Register("deadline", func(ctx context.Context) Status {
		if _, ok := ctx.Deadline(); !ok {
			return Unhealthy("deadline", errors.New("no deadline set"))
		}
		return OK("deadline")
	})
	healthy, _ := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("checker should observe a per-check deadline")
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return OK("checker")
			})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
