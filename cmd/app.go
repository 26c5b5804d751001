package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/nstg/internal/utils"
	"github.com/sw33tLie/nstg/pkg/monitor"
	"github.com/sw33tLie/nstg/pkg/nsapi"
	"github.com/sw33tLie/nstg/pkg/providers"
	"github.com/sw33tLie/nstg/pkg/recipients"
	"github.com/sw33tLie/nstg/pkg/storage"
)

// schedulerWorkers bounds how many monitors refresh at once. The API
// spacing serializes their requests anyway.
const schedulerWorkers = 4

// app holds everything a command needs to resolve recipients.
type app struct {
	client   *nsapi.Client
	db       *storage.DB
	cache    *providers.Cache
	sched    *monitor.Scheduler
	monitors *monitor.Registry
	resolver *recipients.Resolver
	interval time.Duration
}

func newApp(ctx context.Context) (*app, error) {
	ua := viper.GetString("nationstates.useragent")
	client, err := nsapi.New(ua, nsapi.WithLogger(utils.Log))
	if err != nil {
		return nil, fmt.Errorf("%w (set nationstates.useragent in ~/.nstg.yaml or pass --useragent)", err)
	}

	a := &app{client: client, interval: viper.GetDuration("monitor.interval")}

	ttl := viper.GetDuration("cache.ttl")
	var store providers.SnapshotStore
	if ttl > 0 {
		a.db, err = openCache(ctx, ttl)
		if err != nil {
			utils.Log.Warnf("Snapshot cache unavailable, continuing without it: %v", err)
		} else {
			store = a.db
		}
	}
	a.cache = providers.NewCache(client, ttl, store)

	// Monitors poll the live API, never the cache.
	a.sched = monitor.NewScheduler(schedulerWorkers)
	a.monitors = monitor.NewDefaultRegistry(client, a.sched, monitor.Options{
		Interval: a.interval,
		Log:      utils.Log,
	})
	a.resolver = recipients.NewResolver(recipients.NewDecomposer(a.cache, a.monitors, utils.Log), utils.Log)
	return a, nil
}

// openCache opens the snapshot database and drops entries older than ttl.
func openCache(ctx context.Context, ttl time.Duration) (*storage.DB, error) {
	path, err := utils.GetAbsDBPath(viper.GetString("cache.path"))
	if err != nil {
		return nil, err
	}
	lock, err := utils.NewDBLock(path)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	defer lock.Unlock()

	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	if n, err := db.Prune(ctx, time.Now().Add(-ttl)); err != nil {
		utils.Log.Warnf("Could not prune snapshot cache: %v", err)
	} else if n > 0 {
		utils.Log.Debugf("Pruned %d stale snapshots", n)
	}
	return db, nil
}

func (a *app) Close() {
	a.monitors.Close()
	a.sched.Close()
	if a.db != nil {
		a.db.Close()
	}
}

// liveMonitor wraps the campaign tokens in a monitor that re-resolves them
// every interval.
func (a *app) liveMonitor(tokens []recipients.Token) (*monitor.Updating, error) {
	return monitor.NewUpdating("campaign", recipients.NewLive(a.resolver, tokens), a.sched, monitor.Options{
		Interval:   a.interval,
		MinSpacing: a.client.MinInterval(),
		Log:        utils.Log,
	})
}

// readTokens parses recipient tokens from the positional args, or from
// --file when given.
func readTokens(cmd *cobra.Command, args []string) ([]recipients.Token, error) {
	var lines []string
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		fileLines, err := utils.ReadLines(file)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fileLines...)
	}
	for _, arg := range args {
		lines = append(lines, arg)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no recipients given: pass tokens as arguments or use --file")
	}
	return recipients.ParseAll(lines)
}
