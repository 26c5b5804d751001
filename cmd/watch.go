package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/nstg/internal/utils"
	"github.com/sw33tLie/nstg/pkg/dispatch"
	"github.com/sw33tLie/nstg/pkg/recipients"
)

// watchCmd implements: nstg watch [tokens...]
var watchCmd = &cobra.Command{
	Use:   "watch [tokens...]",
	Short: "Print new recipients of a live list as they appear",
	Long: `Resolve a recipient list containing live tokens every monitor interval and
print each nation the first time it appears. Stops when every live token is
exhausted or on interrupt.`,
	Example: `  nstg watch _happenings:all
  nstg watch '_movement:into;europe' -- -tag:new`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := readTokens(cmd, args)
		if err != nil {
			return err
		}
		if !recipients.HasStateful(tokens) {
			return fmt.Errorf("nothing to watch: the list has no live tokens, use 'nstg resolve' instead")
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		live, err := a.liveMonitor(tokens)
		if err != nil {
			return err
		}
		defer live.Stop()

		source := dispatch.NewMonitorSource(live, a.interval)
		var count int
		for {
			name, ok, err := source.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}
			if !ok {
				utils.Log.Info("Every live token is exhausted")
				break
			}
			count++
			fmt.Println(name)
		}
		utils.Log.Debugf("Watched %d recipients", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringP("file", "f", "", "Read recipient tokens from a file, one per line (- for stdin)")
}
