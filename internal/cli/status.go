package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/set718/keyrouter/internal/infra/redis"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the credential health published by running routers",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("redis.url is required to read published health")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snaps, err := client.ReadHealth(ctx)
	if err != nil {
		slog.Error("Failed to read health", "error", err)
		os.Exit(1)
	}
	if len(snaps) == 0 {
		fmt.Println("No router instances have published health.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "INSTANCE\tSTRATEGY\tCREDENTIAL\tSTATUS\tSCORE\tSUCCESS\tAVG(s)\tFAILS\tPUBLISHED")

	for _, snap := range snaps {
		ids := make([]string, 0, len(snap.Credentials))
		for id := range snap.Credentials {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			e := snap.Credentials[id]
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.1f%%\t%.2f\t%d\t%s\n",
				snap.Instance, snap.Strategy, id, e.Status,
				e.HealthScore, e.SuccessRate*100, e.AvgResponseTime,
				e.ConsecutiveFailures, snap.PublishedAt.Format(time.RFC3339))
		}
	}
	_ = w.Flush()
}
