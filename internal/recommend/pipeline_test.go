package recommend

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/retry"
)

// scriptedGenerator returns replies[i] / errs[i] on call i and repeats the
// last entry once the script runs out.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []domain.Prompt
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, p domain.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.prompts)
	g.prompts = append(g.prompts, p)
	var reply string
	var err error
	if len(g.replies) > 0 {
		reply = g.replies[min(i, len(g.replies)-1)]
	}
	if len(g.errs) > 0 {
		err = g.errs[min(i, len(g.errs)-1)]
	}
	return reply, err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func loadCars(t *testing.T, csv string) *dataset.Dataset {
	t.Helper()
	d, err := dataset.Read(strings.NewReader(csv), "cars.csv", ',')
	if err != nil {
		t.Fatal(err)
	}
	return dataset.Clean(d)
}

const twoCars = "make,model,year,body_type\nToyota,Corolla,2020,Sedan\nHonda,Civic,2021,Sedan\n"

func noSleepPolicy(maxRate int) (retry.Policy, *[]time.Duration) {
	var delays []time.Duration
	return retry.Policy{
		MaxRateLimitRetries: maxRate,
		MaxTransportRetries: 1,
		BaseDelay:           time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}, &delays
}

func TestRecommendCorollaScenario(t *testing.T) {
	t.Parallel()

	d := loadCars(t, twoCars)
	criteria := domain.FilterCriteria{YearMin: 2020, YearMax: 2021}
	candidates := dataset.Filter(d, criteria)
	if candidates.Len() != 2 {
		t.Fatalf("filter kept %d rows, want 2", candidates.Len())
	}

	gen := &scriptedGenerator{replies: []string{"Corolla"}}
	policy, _ := noSleepPolicy(5)
	p, err := New(gen, nil, policy, Config{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Recommend(context.Background(), Request{
		Requirements: "fuel-efficient sedan",
		Criteria:     criteria,
		Candidates:   candidates,
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(res.Recommendations) != 1 {
		t.Fatalf("Recommendations = %+v", res.Recommendations)
	}
	got := res.Recommendations[0]
	if got.Rank != 1 || got.Vehicle.Make != "Toyota" || got.Vehicle.Model != "Corolla" || got.Vehicle.Year != 2020 {
		t.Errorf("recommendation = %+v", got)
	}
	if res.Attempts != 1 || res.RequestID == "" || res.Explanation != "Corolla" {
		t.Errorf("result = %+v", res)
	}

	sent := gen.prompts[0]
	if !strings.Contains(sent.Text, "fuel-efficient sedan") || !strings.Contains(sent.Text, "Toyota | Corolla | 2020 | Sedan") {
		t.Errorf("prompt missing requirements or table:\n%s", sent.Text)
	}
	if sent.Temperature != DefaultTemperature || sent.MaxTokens != DefaultMaxTokens {
		t.Errorf("prompt settings = %+v", sent)
	}
}

func TestRecommendRateLimitExhaustion(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{errs: []error{&domain.StatusError{Provider: "scripted", StatusCode: http.StatusTooManyRequests}}}
	policy := retry.Policy{MaxRateLimitRetries: 2, BaseDelay: 5 * time.Millisecond}
	var backoffs []time.Duration
	policy.OnBackoff = func(b retry.Backoff) { backoffs = append(backoffs, b.Delay) }
	p, err := New(gen, nil, policy, Config{})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = p.Recommend(context.Background(), Request{Requirements: "anything", Candidates: loadCars(t, twoCars)})
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if gen.calls() != 3 || len(backoffs) != 2 {
		t.Fatalf("dispatches = %d, backoffs = %d, want 3 and 2", gen.calls(), len(backoffs))
	}
	if sum := backoffs[0] + backoffs[1]; elapsed < sum {
		t.Errorf("elapsed %v shorter than backoff total %v", elapsed, sum)
	}
}

func TestRecommendPreconditions(t *testing.T) {
	t.Parallel()

	d := loadCars(t, twoCars)
	empty := dataset.Filter(d, domain.FilterCriteria{Makes: []string{"Ferrari"}})
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no candidates", Request{Requirements: "a sedan", Candidates: empty}, domain.ErrEmptyCandidateSet},
		{"nil candidates", Request{Requirements: "a sedan"}, domain.ErrEmptyCandidateSet},
		{"blank requirements", Request{Requirements: "  \n", Candidates: d}, domain.ErrEmptyRequirements},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gen := &scriptedGenerator{replies: []string{"Corolla"}}
			policy, _ := noSleepPolicy(5)
			p, _ := New(gen, nil, policy, Config{})
			if _, err := p.Recommend(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if gen.calls() != 0 {
				t.Errorf("dispatched %d times before precondition failure", gen.calls())
			}
		})
	}
}

func TestRecommendCredentialIsFatal(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{errs: []error{&domain.StatusError{StatusCode: http.StatusUnauthorized}}}
	policy, delays := noSleepPolicy(5)
	p, _ := New(gen, nil, policy, Config{})
	_, err := p.Recommend(context.Background(), Request{Requirements: "x", Candidates: loadCars(t, twoCars)})
	if !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("error = %v, want ErrCredential", err)
	}
	if gen.calls() != 1 || len(*delays) != 0 {
		t.Errorf("credential error was retried: %d calls", gen.calls())
	}
}

func TestRecommendRecoversAndReportsAttempts(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{
		errs:    []error{&domain.StatusError{StatusCode: 529}, nil},
		replies: []string{"", "1. Honda Civic - cheap to run\n2. Mazda Miata - fun"},
	}
	policy, delays := noSleepPolicy(5)
	p, _ := New(gen, nil, policy, Config{})
	res, err := p.Recommend(context.Background(), Request{Requirements: "commuter", Candidates: loadCars(t, twoCars)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 2 || len(*delays) != 1 {
		t.Errorf("attempts = %d, backoffs = %d", res.Attempts, len(*delays))
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0].Rationale != "cheap to run" {
		t.Errorf("recommendations = %+v", res.Recommendations)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "Mazda Miata" {
		t.Errorf("unresolved = %v", res.Unresolved)
	}
}

func TestRecommendNoMatchesIsEmptySuccess(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []string{"I would suggest a bicycle."}}
	policy, _ := noSleepPolicy(5)
	p, _ := New(gen, nil, policy, Config{})
	res, err := p.Recommend(context.Background(), Request{Requirements: "x", Candidates: loadCars(t, twoCars)})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !res.Empty() || res.Explanation != "I would suggest a bicycle." {
		t.Errorf("result = %+v", res)
	}
}

func TestRecommendPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	gen := generatorFunc(func(ctx context.Context, _ domain.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	policy, _ := noSleepPolicy(5)
	policy.MaxTransportRetries = 0
	p, _ := New(gen, nil, policy, Config{AttemptTimeout: 10 * time.Millisecond})
	_, err := p.Recommend(context.Background(), Request{Requirements: "x", Candidates: loadCars(t, twoCars)})
	if !errors.Is(err, domain.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want transport timeout", err)
	}
}

func TestNewRequiresGenerator(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil, retry.Policy{}, Config{}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("error = %v", err)
	}
}

type generatorFunc func(ctx context.Context, p domain.Prompt) (string, error)

func (f generatorFunc) Name() string { return "func" }

func (f generatorFunc) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	return f(ctx, p)
}

func TestRecommendProseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"short sentence", "I recommend the Corolla.", []string{"1:Toyota Corolla 2020"}},
		{"comma clause before the car", "Based on what you describe, the best choice in this dataset is clearly the Toyota Corolla.", []string{"1:Toyota Corolla 2020"}},
		{"long sentence", "Given your need for a fuel efficient sedan I would go with the Corolla for sure.", []string{"1:Toyota Corolla 2020"}},
		{"mention order", "The Civic is sportier, but for a long commute the Corolla is easier to live with every single day.", []string{"1:Honda Civic 2021", "2:Toyota Corolla 2020"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gen := &scriptedGenerator{replies: []string{tt.reply}}
			policy, _ := noSleepPolicy(5)
			p, _ := New(gen, nil, policy, Config{})
			res, err := p.Recommend(context.Background(), Request{Requirements: "sedan", Candidates: loadCars(t, twoCars)})
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got := names(res.Recommendations); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("recommendations = %v, want %v", got, tt.want)
			}
			if len(res.Unresolved) != 0 {
				t.Errorf("unresolved = %q, want none", res.Unresolved)
			}
		})
	}
}

func TestRecommendReportsUnmatchedListItems(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []string{"1. Mazda3 - fun\n2. Golf GTI - quick"}}
	policy, _ := noSleepPolicy(5)
	p, _ := New(gen, nil, policy, Config{})
	res, err := p.Recommend(context.Background(), Request{Requirements: "hatch", Candidates: loadCars(t, twoCars)})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if !res.Empty() || !reflect.DeepEqual(res.Unresolved, []string{"Mazda3", "Golf GTI"}) {
		t.Errorf("result = %+v", res)
	}
}

func TestRecommendSendsExplicitZeroTemperature(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{replies: []string{"Civic"}}
	policy, _ := noSleepPolicy(5)
	zero := 0.0
	p, _ := New(gen, nil, policy, Config{Temperature: &zero})
	if _, err := p.Recommend(context.Background(), Request{Requirements: "x", Candidates: loadCars(t, twoCars)}); err != nil {
		t.Fatal(err)
	}
	if got := gen.prompts[0].Temperature; got != 0 {
		t.Errorf("temperature = %v, want 0", got)
	}
}
