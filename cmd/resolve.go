package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/nstg/internal/utils"
)

// resolveCmd implements: nstg resolve [tokens...]
var resolveCmd = &cobra.Command{
	Use:   "resolve [tokens...]",
	Short: "Print the nations a recipient list resolves to",
	Long: `Print the nations a recipient list resolves to, one per line.

Tokens are applied left to right. Put exclusion tokens after "--" so they
are not read as flags.`,
	Example: `  nstg resolve region:europe +tag:wa
  nstg resolve region:europe -- -nation:testlandia
  nstg resolve --file recipients.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := readTokens(cmd, args)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.resolver.Resolve(ctx, tokens)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		utils.Log.Debugf("Resolved %d tokens to %d nations", len(tokens), len(names))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringP("file", "f", "", "Read recipient tokens from a file, one per line (- for stdin)")
}
