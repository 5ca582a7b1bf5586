package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/imagery"
	"carrec/internal/insights"
	"carrec/internal/logging"
	"carrec/internal/recommend"
	"carrec/internal/server"
	"carrec/internal/tui"
)

func newTUICmd(a *app) *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			logging.Init(logging.Config{Level: a.cfg.Log.Level, Format: "json", Output: f})

			data, err := a.loadDataset()
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			m := tui.New(p, data)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "carrec.log", "file receiving logs while the TUI runs")
	return cmd
}

func newRecommendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <requirements...>",
		Short: "Ask for recommendations once and print them",
		Example: `  carrec recommend "family SUV with good mileage" --year-min 2018
  carrec recommend --make Toyota --make Honda cheap commuter`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.loadDataset()
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			criteria := a.criteria()
			res, err := p.Recommend(ctx, recommend.Request{
				Requirements: strings.Join(args, " "),
				Criteria:     criteria,
				Candidates:   dataset.Filter(data, criteria),
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printResult(w io.Writer, res *domain.RecommendationResult) {
	if res.Empty() {
		fmt.Fprintln(w, "No car in the dataset matched the suggestions.")
		if res.Explanation != "" {
			fmt.Fprintf(w, "\nModel reply:\n%s\n", res.Explanation)
		}
		return
	}
	for _, r := range res.Recommendations {
		fmt.Fprintf(w, "%d. %s", r.Rank, r.Vehicle.Name())
		if d := r.Vehicle.Details(); d != "" {
			fmt.Fprintf(w, " (%s)", d)
		}
		fmt.Fprintln(w)
		if r.Rationale != "" {
			fmt.Fprintf(w, "   %s\n", r.Rationale)
		}
	}
	if len(res.Unresolved) > 0 {
		fmt.Fprintf(w, "\nNot in dataset: %s\n", strings.Join(res.Unresolved, ", "))
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.loadDataset()
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			opts := []server.Option{server.WithRateLimit(a.cfg.Server.RequestsPerMinute)}
			if a.cfg.Server.Images {
				opts = append(opts, server.WithImages(imagery.New()))
			}
			srv := server.NewHTTPServer(addr, server.New(data, p, opts...))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logging.Component("cli")
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("http server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newInsightsCmd(a *app) *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:       "insights [metric]",
		Short:     "Print dataset charts as text",
		Long:      "Print the dataset overview and one chart, or every chart when no metric is given.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: metricNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics := insights.Metrics
			if len(args) == 1 {
				m, err := insights.ParseMetric(args[0])
				if err != nil {
					return err
				}
				metrics = []insights.Metric{m}
			}
			data, err := a.loadDataset()
			if err != nil {
				return err
			}
			data = dataset.Filter(data, a.criteria())

			w := cmd.OutOrStdout()
			o := insights.Summary(data)
			fmt.Fprintf(w, "%d cars, %d makes", o.Total, o.Makes)
			if o.YearMin != 0 {
				fmt.Fprintf(w, ", model years %d-%d", o.YearMin, o.YearMax)
			}
			fmt.Fprintln(w)
			for _, m := range metrics {
				s := insights.Summarize(data, m)
				fmt.Fprintf(w, "\n%s\n", s.Title)
				if s.Empty() {
					fmt.Fprintln(w, "(no data)")
					continue
				}
				fmt.Fprint(w, s.Bars(width))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 40, "width of the longest bar")
	return cmd
}

func metricNames() []string {
	names := make([]string, len(insights.Metrics))
	for i, m := range insights.Metrics {
		names[i] = string(m)
	}
	return names
}
