package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"netdash/internal/dummy"
)

var dummyFlags dummy.ServerConfig

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the local demo target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return dummy.ListenAndServe(ctx, dummyFlags)
	},
}

func init() {
	dummyCmd.Flags().IntVarP(&dummyFlags.Port, "port", "p", 8080, "port to listen on")
	dummyCmd.Flags().StringVar(&dummyFlags.Username, "username", "admin", "username /login accepts")
	dummyCmd.Flags().StringVar(&dummyFlags.Password, "password", "hunter2", "password /login accepts")
	dummyCmd.Flags().IntVar(&dummyFlags.LimitRPS, "limit-rps", 20, "requests per second /limited accepts before answering 429")
}
