package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/nstg/internal/utils"
	"github.com/sw33tLie/nstg/pkg/dispatch"
	"github.com/sw33tLie/nstg/pkg/providers"
	"github.com/sw33tLie/nstg/pkg/recipients"
)

// sendCmd implements: nstg send [tokens...]
// Flags:
//
//	--class string            bulk (campaign) or throttled (recruitment)
//	--file string             Read tokens from a file
//	--dry-run                 Resolve and check recipients without sending
//	--cadence duration        Override the class cadence
//	--exclude-region strings  Skip nations residing in these regions
//	--metrics string          Serve Prometheus metrics on this address
var sendCmd = &cobra.Command{
	Use:   "send [tokens...]",
	Short: "Send an API telegram to a recipient list",
	Long: `Send an API telegram to every nation a recipient list resolves to.

Lists containing live tokens (_happenings, _movement, _approvals, _voting)
keep running and telegram new nations as the monitors report them, until
every live token is exhausted or the campaign is interrupted.

Credentials are read from the telegram section of ~/.nstg.yaml.`,
	Example: `  nstg send --class bulk region:europe +tag:wa
  nstg send --class throttled _happenings:all --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		classFlag, _ := cmd.Flags().GetString("class")
		class, err := dispatch.ParseClass(classFlag)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cadence, _ := cmd.Flags().GetDuration("cadence")
		excluded, _ := cmd.Flags().GetStringSlice("exclude-region")
		metricsAddr, _ := cmd.Flags().GetString("metrics")

		tokens, err := readTokens(cmd, args)
		if err != nil {
			return err
		}

		creds := providers.Credentials{
			ClientKey:  viper.GetString("telegram.client"),
			TelegramID: viper.GetString("telegram.tgid"),
			SecretKey:  viper.GetString("telegram.secret"),
		}
		if !dryRun {
			if err := creds.Validate(); err != nil {
				return fmt.Errorf("%w (configure the telegram section in ~/.nstg.yaml)", err)
			}
			lock, err := utils.NewCredentialLock("", creds.ClientKey)
			if err != nil {
				return err
			}
			if err := lock.TryLock(); err != nil {
				return err
			}
			defer lock.Unlock()
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		source, err := campaignSource(ctx, a, tokens)
		if err != nil {
			return err
		}
		if s, ok := source.(interface{ Stop() }); ok {
			defer s.Stop()
		}

		predicates := []dispatch.Predicate{dispatch.DefaultFor(class)}
		if len(excluded) > 0 {
			regions := make([]string, 0, len(excluded))
			for _, r := range excluded {
				regions = append(regions, recipients.Canonical(r))
			}
			predicates = append(predicates, dispatch.NotInRegions(regions...))
		}

		var metrics *dispatch.Metrics
		if metricsAddr != "" {
			reg := prometheus.NewRegistry()
			metrics = dispatch.NewMetrics(reg)
			srv := serveMetrics(metricsAddr, reg)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		driver, err := dispatch.New(a.client, dispatch.Config{
			Source:      source,
			Credentials: creds,
			Class:       class,
			Cadence:     cadence,
			Profiles:    a.client,
			Predicates:  predicates,
			DryRun:      dryRun,
			Metrics:     metrics,
			Log:         utils.Log,
			OnResult:    printResult,
		})
		if err != nil {
			return err
		}

		report, err := driver.Run(ctx)
		if report != nil {
			printReport(report)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringP("file", "f", "", "Read recipient tokens from a file, one per line (- for stdin)")
	sendCmd.Flags().StringP("class", "c", "bulk", "Telegram class: bulk (campaign, 30s) or throttled (recruitment, 180s)")
	sendCmd.Flags().Bool("dry-run", false, "Resolve and check recipients without sending anything")
	sendCmd.Flags().Duration("cadence", 0, "Override the class cadence (never below the API spacing)")
	sendCmd.Flags().StringSlice("exclude-region", nil, "Skip nations residing in these regions")
	sendCmd.Flags().String("metrics", "", "Serve Prometheus metrics on this address (example: :9090)")
}

// stoppableSource is a live source whose monitor must be stopped when the
// campaign ends.
type stoppableSource struct {
	*dispatch.MonitorSource
	stop func()
}

func (s stoppableSource) Stop() { s.stop() }

// campaignSource resolves static lists up front and wraps lists with live
// tokens in a monitor that keeps resolving them.
func campaignSource(ctx context.Context, a *app, tokens []recipients.Token) (dispatch.Source, error) {
	if !recipients.HasStateful(tokens) {
		names, err := a.resolver.Resolve(ctx, tokens)
		if err != nil {
			return nil, err
		}
		utils.Log.Infof("Resolved %d recipients", len(names))
		return dispatch.NewListSource(names), nil
	}

	live, err := a.liveMonitor(tokens)
	if err != nil {
		return nil, err
	}
	return stoppableSource{
		MonitorSource: dispatch.NewMonitorSource(live, a.interval),
		stop:          live.Stop,
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Log.Errorf("Metrics server: %v", err)
		}
	}()
	utils.Log.Infof("Serving metrics on %s/metrics", addr)
	return srv
}

// printResult writes each delivered recipient, or each eligible one in a dry
// run, to stdout. Everything else is logged by the driver.
func printResult(res dispatch.Result) {
	if res.Sent() || (res.DryRun && res.SkipReason == "") {
		fmt.Println(res.Recipient)
	}
}

func printReport(r *dispatch.Report) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "STATE\t%s\t\n", r.State)
	fmt.Fprintf(w, "DURATION\t%s\t\n", r.Finished.Sub(r.Started).Round(time.Second))
	if len(r.WouldSend) > 0 {
		fmt.Fprintf(w, "WOULD SEND\t%d\t\n", len(r.WouldSend))
	}
	fmt.Fprintf(w, "SENT\t%d\t\n", len(r.Sent))

	outcomes := make([]providers.Outcome, 0, len(r.Outcomes))
	for o := range r.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
	for _, o := range outcomes {
		if o != providers.Accepted {
			fmt.Fprintf(w, "%s\t%d\t\n", o, r.Outcomes[o])
		}
	}
	fmt.Fprintf(w, "SKIPPED\t%d\t\n", len(r.Skipped))
	fmt.Fprintf(w, "FAILED\t%d\t\n", len(r.Failed))
	w.Flush()
}
