package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/nstg/internal/utils"
	"github.com/sw33tLie/nstg/pkg/storage"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the snapshot cache of region and World Assembly lists",
}

// cacheStatsCmd represents the stats command
var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints the cached snapshots and their age.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCacheDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("The snapshot cache is empty.")
			return nil
		}

		ttl := viper.GetDuration("cache.ttl")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "KEY\tNATIONS\tAGE\tSTATUS\t")

		var total int
		for _, s := range stats {
			age := time.Since(s.FetchedAt)
			status := "fresh"
			if age > ttl {
				status = "stale"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", s.Key, s.Count, age.Round(time.Second), status)
			total += s.Count
		}

		fmt.Fprintln(w, " \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t%d\t\t\t\n", total)

		w.Flush()
		return nil
	},
}

// cacheClearCmd represents the clear command
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deletes every cached snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := utils.GetAbsDBPath(viper.GetString("cache.path"))
		if err != nil {
			return err
		}
		lock, err := utils.NewDBLock(path)
		if err != nil {
			return err
		}
		if err := lock.Lock(); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := openCacheDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Clear(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d snapshots.\n", n)
		return nil
	},
}

func openCacheDB() (*storage.DB, error) {
	path, err := utils.GetAbsDBPath(viper.GetString("cache.path"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot cache not found: %s", path)
	}
	return storage.Open(path)
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
