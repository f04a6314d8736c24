package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/set718/keyrouter/internal/batch"
	"github.com/set718/keyrouter/internal/control"
	"github.com/set718/keyrouter/internal/infra/rpc"
)

var (
	probeQuery string
	probeUser  string
	probeCount int
	probeRPS   float64
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send test requests through the router and print the credential dashboard",
	Run:   runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeQuery, "query", "ping", "query to send")
	probeCmd.Flags().StringVar(&probeUser, "user", "keyrouter-probe", "user id sent with each request")
	probeCmd.Flags().IntVar(&probeCount, "count", 10, "number of requests")
	probeCmd.Flags().Float64Var(&probeRPS, "rps", 2, "requests per second, 0 = unlimited")
	rootCmd.AddCommand(probeCmd)
}

// limitedDispatcher waits on a token bucket before each dispatch.
type limitedDispatcher struct {
	next    batch.Dispatcher
	limiter *rate.Limiter
}

func newLimitedDispatcher(next batch.Dispatcher, rps float64) batch.Dispatcher {
	if rps <= 0 {
		return next
	}
	return &limitedDispatcher{next: next, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (d *limitedDispatcher) Dispatch(ctx context.Context, req any) (any, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.next.Dispatch(ctx, req)
}

func runProbe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	svc, err := control.NewService(cfg, os.Environ())
	if err != nil {
		slog.Error("Failed to initialize router", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	items := make([]any, probeCount)
	for i := range items {
		items[i] = rpc.ChatRequest{Query: probeQuery, User: probeUser, Blocking: true}
	}

	proc := batch.NewProcessor(newLimitedDispatcher(svc.Client(), probeRPS), cfg.Batch)
	proc.SetProgress(func(done, total int) {
		s := proc.Stats()
		slog.Info("Probe progress",
			"done", done,
			"total", total,
			"failed", s.Failed,
			"eta", s.EstimatedRemaining,
		)
	})

	summary, err := proc.Run(ctx, items)
	if err != nil {
		slog.Warn("Probe stopped early", "error", err)
	}
	for _, r := range summary.Results {
		if r.Err != nil {
			slog.Warn("Probe request failed", "index", r.Index, "error", r.Err)
		}
	}

	fmt.Printf("\nProbe finished: %d succeeded, %d failed in %s\n\n",
		summary.Succeeded, summary.Failed, summary.Elapsed.Round(time.Millisecond))
	fmt.Println(svc.Client().Dashboard())
}
