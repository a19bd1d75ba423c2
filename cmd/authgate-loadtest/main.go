// authgate-loadtest drives many engines concurrently against Redis-backed scopes
// and reports transition latency percentiles.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type engineSlot struct {
	engine *authgate.Engine
	mu     sync.Mutex
}

func main() {
	var (
		engines     = pflag.Int("engines", 1000, "number of independent engines")
		concurrency = pflag.Int("concurrency", 64, "number of concurrent workers")
		ops         = pflag.Int("ops", 20000, "operations per phase (failure + session)")
		redisAddr   = pflag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = pflag.String("prefix", "lt", "key prefix")
	)
	pflag.Parse()

	if *engines <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "engines, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authgate.DefaultConfig()
	cfg.Lockout.MaxFailedAttempts = 1 << 30
	cfg.Store.Durable = "redis"
	cfg.Store.RedisAddr = addr

	slots := make([]engineSlot, *engines)
	fmt.Printf("building %d engines...\n", *engines)
	startBuild := time.Now()
	for i := range slots {
		p := *prefix + ":" + strconv.Itoa(i)
		e, err := authgate.New().
			WithConfig(cfg).
			WithSessionStore(store.NewRedis(client, p+":s", time.Hour)).
			WithDurableStore(store.NewRedis(client, p+":d", 0)).
			BuildContext(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
			os.Exit(1)
		}
		slots[i].engine = e
	}
	defer func() {
		for i := range slots {
			slots[i].engine.Close()
		}
	}()
	fmt.Printf("built in %s\n", time.Since(startBuild).Round(time.Millisecond))

	failureStats := runPhase(slots, *ops, *concurrency, 7919, func(e *authgate.Engine, i int) error {
		_, err := e.RecordFailure(ctx, "user-"+strconv.Itoa(i%97))
		return err
	})
	sessionStats := runPhase(slots, *ops, *concurrency, 6151, func(e *authgate.Engine, i int) error {
		user := authgate.User{ID: authgate.UserID(strconv.Itoa(i)), Username: "user", Role: "USER"}
		if _, err := e.RecordSuccess(ctx, user, "tok-"+strconv.Itoa(i)); err != nil {
			return err
		}
		_, err := e.Logout(ctx)
		return err
	})

	fmt.Println("---- results ----")
	printStats("failure", failureStats)
	printStats("session", sessionStats)
}

// runPhase calls op ops times across concurrency workers. Each engine is driven by one
// worker at a time.
func runPhase(slots []engineSlot, ops, concurrency int, seed int64, op func(*authgate.Engine, int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				slot := &slots[r.Intn(len(slots))]

				slot.mu.Lock()
				t0 := time.Now()
				err := op(slot.engine, i)
				d := time.Since(t0)
				slot.mu.Unlock()
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
