// airq-check probes the remote air-quality API with the dashboard's
// configuration and prints what each endpoint returns.
//
//	AIRQ_API_BASE_URL=http://10.0.0.5:8000 airq-check [city]
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"airq-dashboard/internal/airq"
	"airq-dashboard/internal/config"
	"airq-dashboard/internal/models"
	"airq-dashboard/internal/quality"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("AIRQ_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	city := ""
	if len(os.Args) > 1 {
		city = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := run(ctx, cfg, city, os.Stdout)
	if failed > 0 {
		os.Exit(1)
	}
}

// run prints one section per endpoint and returns how many of them failed.
func run(ctx context.Context, cfg *config.Config, city string, out io.Writer) int {
	client := airq.NewClient(airq.Options{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.Key,
		Timeout: cfg.APITimeout(),
	}, zap.NewNop())
	th := quality.Thresholds{Good: cfg.Quality.Thresholds.Good, Moderate: cfg.Quality.Thresholds.Moderate}

	failed := 0
	section := func(title string) {
		fmt.Fprintf(out, "\n=== %s ===\n", title)
	}
	fail := func(err error) {
		failed++
		fmt.Fprintf(out, "❌ %v\n", err)
	}

	fmt.Fprintf(out, "API: %s (x-api-key: %v)\n", cfg.API.BaseURL, cfg.API.Key != "")

	section("Cities")
	cities, err := client.Cities(ctx)
	if err != nil {
		fail(err)
	} else {
		fmt.Fprintf(out, "✅ %d cities: %s\n", len(cities), strings.Join(cities, ", "))
	}

	if city != "" {
		section("Districts of " + city)
		districts, err := client.Districts(ctx, city)
		switch {
		case airq.IsNotFound(err):
			fmt.Fprintln(out, "✅ no districts")
		case err != nil:
			fail(err)
		default:
			fmt.Fprintf(out, "✅ %d districts: %s\n", len(districts), strings.Join(districts, ", "))
		}
	}

	section("Map points")
	points, err := client.MapPoints(ctx, models.Filter{City: city})
	if err != nil {
		fail(err)
	} else {
		fmt.Fprintf(out, "%-20s %-20s %-12s %-10s %s\n", "device_id", "name", "city", "tvoc_ppb", "bucket")
		fmt.Fprintln(out, strings.Repeat("-", 80))
		noPosition := 0
		for _, p := range points {
			if !p.HasPosition() {
				noPosition++
			}
			fmt.Fprintf(out, "%-20s %-20s %-12s %-10s %s\n", p.Key(), p.Name, p.City, formatReading(p.TVOC), th.Classify(p.TVOC))
		}
		fmt.Fprintf(out, "✅ %d points (%d without position)\n", len(points), noPosition)
	}

	section("Device " + cfg.Device.ID)
	alert, err := client.LatestAlert(ctx, cfg.Device.ID)
	if err != nil {
		fail(err)
	} else if !alert.Found {
		fmt.Fprintln(out, "⚠️  no alert found for device")
	} else {
		_, badge := quality.BadgeFor(alert.Status)
		fmt.Fprintf(out, "✅ status=%s score=%s tvoc=%s eco2=%s\n",
			badge, formatReading(alert.Score), formatReading(alert.TVOC), formatReading(alert.ECO2))
	}

	history, err := client.History(ctx, cfg.Device.ID, cfg.Device.HistoryLimit)
	if err != nil {
		fail(err)
	} else {
		fmt.Fprintf(out, "✅ %d history points\n", len(history))
	}

	fmt.Fprintf(out, "\n%d check(s) failed\n", failed)
	return failed
}

func formatReading(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
