package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.CheckErr(NewCLI().ExecuteContext(ctx))
}

// NewCLI builds the blip-eval command tree
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blip-eval",
		Short: "Evaluate BLIP-2 captioning and image-text retrieval",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().String("env", ".env", "Path of the env file holding BLIP_EVAL_* settings")

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		newRunCmd(),
		newMetricsCmd(),
	)

	return rootCmd
}
