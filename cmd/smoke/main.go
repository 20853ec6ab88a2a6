package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"passgate.org/internal/authz"
	"passgate.org/internal/directory"
	"passgate.org/internal/passcode"
	"passgate.org/internal/store/pg"
	"passgate.org/internal/stream"
)

// Smoke test for the verification engine: issue a single-use passcode, fire
// concurrent verifications at it, and assert exactly one success. Runs
// against PASSGATE_PG_DSN when set, the in-memory store otherwise.
func main() {
	var (
		store passcode.Store
		trail passcode.AuditLog
	)
	if dsn := os.Getenv("PASSGATE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open store at %s: %v", dsn, err)
		}
		defer pgStore.Close()
		store, trail = pgStore, pgStore
	} else {
		mem := passcode.NewInMemory()
		store, trail = mem, mem
	}

	dir := directory.NewInMemory()
	dir.AddMerchant("smoke-merchant", true)
	dir.AddSubject("smoke-subject", "smoke-merchant")

	lifecycle := passcode.NewLifecycle(store, dir, authz.NewAllowAllGate(), passcode.LifecycleConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	live := stream.New()
	events := live.Subscribe(ctx)
	var streamed atomic.Int64
	go func() {
		for range events {
			streamed.Add(1)
		}
	}()

	verifier := passcode.NewVerifier(store, trail, live, passcode.VerifierConfig{})

	pc, err := lifecycle.Issue(ctx, "smoke-operator", "smoke-subject", passcode.KindVisitor, passcode.Constraints{
		UsageLimit:   1,
		TTL:          time.Hour,
		AllowedScope: []string{"smoke-venue"},
	})
	if err != nil {
		log.Fatalf("issue passcode: %v", err)
	}

	deviceID := "smoke-" + uuid.NewString()
	const workers = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		exhausted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := verifier.Verify(ctx, passcode.VerifyRequest{
				Code:       pc.Code,
				DeviceID:   deviceID,
				DeviceType: "turnstile",
				Direction:  passcode.DirectionIn,
				Scope:      "smoke-venue",
			})
			if err != nil {
				log.Fatalf("verify: %v", err)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.Result == passcode.ResultSuccess:
				successes++
			case outcome.FailReason == passcode.ReasonExhausted:
				exhausted++
			default:
				log.Fatalf("unexpected outcome: %+v", outcome)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || exhausted != workers-1 {
		log.Fatalf("usage-limit safety violated: successes=%d exhausted=%d", successes, exhausted)
	}

	attempts, err := trail.CountByRange(ctx, passcode.AttemptFilter{DeviceID: deviceID})
	if err != nil {
		log.Fatalf("count attempts: %v", err)
	}
	if attempts != workers {
		log.Fatalf("audit completeness violated: %d attempts for %d calls", attempts, workers)
	}

	fmt.Printf("smoke test passed: passcode=%s device=%s streamed=%d\n", pc.ID, deviceID, streamed.Load())
}
