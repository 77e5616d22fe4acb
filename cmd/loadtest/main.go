// loadtest нагружает HTTP API заказов: оформление, поиск по коду и оплату.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/time/rate"
)

type loadMode string

const (
	modePlace          loadMode = "place"
	modePlaceAuthorize loadMode = "place-authorize"
	modePlaceSettle    loadMode = "place-settle"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	rps         float64
	timeout     time.Duration
	mode        loadMode
	currency    string
	customerTag string
	maxLines    int
	products    int
	seed        uint64
	outputPath  string
}

func parseConfig() (config, error) {
	var (
		cfg       config
		modeValue string
	)

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "HTTP API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; with -duration only used when set explicitly")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.Float64Var(&cfg.rps, "rps", 0, "max scenarios per second across all workers (0 = unlimited)")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-authorize | place-settle")
	flag.StringVar(&cfg.currency, "currency", "RUB", "order currency")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.IntVar(&cfg.maxLines, "max-lines", 3, "max order lines per order")
	flag.IntVar(&cfg.products, "products", 50, "size of the fake product pool")
	flag.Uint64Var(&cfg.seed, "seed", 0, "faker seed (0 = random)")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case strings.TrimSpace(c.baseURL) == "":
		return errors.New("base-url is required")
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case c.duration > 0 && c.totalSet && c.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.rps < 0:
		return errors.New("rps must be >= 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.maxLines <= 0:
		return errors.New("max-lines must be > 0")
	case c.products <= 0:
		return errors.New("products must be > 0")
	case strings.TrimSpace(c.currency) == "":
		return errors.New("currency is required")
	case strings.TrimSpace(c.customerTag) == "":
		return errors.New("customer-tag is required")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modePlace, modePlaceAuthorize, modePlaceSettle:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := run(ctx, cfg)
	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	client := newAPIClient(cfg.baseURL, cfg.timeout, col)

	var limiter *rate.Limiter
	if cfg.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), max(1, int(cfg.rps)))
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for worker := 0; worker < cfg.concurrency; worker++ {
		seed := cfg.seed
		if seed != 0 {
			seed += uint64(worker)
		}
		faker := gofakeit.New(seed)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						continue
					}
				}
				_ = runScenario(ctx, client, faker, cfg, index, runID)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}
