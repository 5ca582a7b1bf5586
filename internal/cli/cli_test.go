package cli

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"carrec/internal/domain"
)

const cars = `Make,Model,Year,Vehicle Size Class,Combined MPG For Fuel Type1
Toyota,Corolla,2020,Compact Cars,33
Honda,Civic,2021,Compact Cars,34
Ford,F150,2015,Standard Pickup Trucks,20
`

func writeFixture(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "cars.csv")
	if err := os.WriteFile(data, []byte(cars), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := `dataset:
  path: ` + data + `
provider:
  type: anthropic
  base_url: ` + baseURL + `
  api_key_env: CARREC_TEST_ANTHROPIC_KEY
retry:
  max_rate_limit_retries: 2
  base_delay_ms: 1
  max_delay_ms: 2
  jitter_ms: 0
log:
  level: disabled
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRecommendCommand(t *testing.T) {
	t.Setenv("CARREC_TEST_ANTHROPIC_KEY", "test-key")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/messages" || r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("unexpected request %s key=%q", r.URL.Path, r.Header.Get("x-api-key"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"1. Corolla - dependable\n2. Mazda3 - fun"}]}`))
	}))
	defer srv.Close()
	cfg := writeFixture(t, srv.URL)

	out, err := run(t, "recommend", "--config", cfg, "--year-min", "2020", "--year-max", "2021", "cheap", "commuter")
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", calls.Load())
	}
	for _, want := range []string{"1. Toyota Corolla (2020, Compact Cars, 33 mpg)", "dependable", "Not in dataset: Mazda3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRecommendCommandRateLimited(t *testing.T) {
	t.Setenv("CARREC_TEST_ANTHROPIC_KEY", "test-key")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()
	cfg := writeFixture(t, srv.URL)

	_, err := run(t, "recommend", "--config", cfg, "suv")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3", calls.Load())
	}
}

func TestRecommendCommandMissingKey(t *testing.T) {
	t.Setenv("CARREC_TEST_ANTHROPIC_KEY", "")
	cfg := writeFixture(t, "http://127.0.0.1:1")
	_, err := run(t, "recommend", "--config", cfg, "suv")
	if !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("err = %v, want ErrCredential", err)
	}
}

func TestRecommendCommandNoCandidates(t *testing.T) {
	t.Setenv("CARREC_TEST_ANTHROPIC_KEY", "test-key")
	cfg := writeFixture(t, "http://127.0.0.1:1")
	_, err := run(t, "recommend", "--config", cfg, "--make", "Lada", "suv")
	if !errors.Is(err, domain.ErrEmptyCandidateSet) {
		t.Fatalf("err = %v, want ErrEmptyCandidateSet", err)
	}
}

func TestInsightsCommand(t *testing.T) {
	cfg := writeFixture(t, "http://127.0.0.1:1")
	out, err := run(t, "insights", "--config", cfg, "--width", "4", "body_type")
	if err != nil {
		t.Fatal(err)
	}
	want := "3 cars, 3 makes, model years 2015-2021\n" +
		"\nCars by body type\n" +
		"Compact Cars           │████ 2\n" +
		"Standard Pickup Trucks │██ 1\n"
	if out != want {
		t.Errorf("output =\n%q\nwant\n%q", out, want)
	}

	if _, err := run(t, "insights", "--config", cfg, "colour"); err == nil {
		t.Error("unknown metric accepted")
	}
}

func TestProviderOverrideResetsProviderDefaults(t *testing.T) {
	a := &app{v: viper.New()}
	a.v.Set(keyConfig, writeFixture(t, "http://127.0.0.1:1"))
	a.v.Set(keyProvider, "OpenAI")
	a.v.Set(keyTopN, 3)

	cmd := &cobra.Command{Use: "insights"}
	cmd.SetErr(&bytes.Buffer{})
	if err := a.setup(cmd); err != nil {
		t.Fatal(err)
	}
	p := a.cfg.Provider
	if p.Type != "openai" || p.BaseURL != "https://api.openai.com/v1" || p.APIKeyEnv != "OPENAI_API_KEY" || p.Model != "gpt-4o-mini" {
		t.Errorf("provider = %+v", p)
	}
	if a.cfg.Pipeline.TopN != 3 {
		t.Errorf("top n = %d", a.cfg.Pipeline.TopN)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	a := &app{v: viper.New()}
	a.v.Set(keyConfig, writeFixture(t, "http://127.0.0.1:1"))
	a.v.Set(keyProvider, "gemini")
	cmd := &cobra.Command{Use: "insights"}
	if err := a.setup(cmd); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
