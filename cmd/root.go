package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cypher_engine",
	Short: "Competitive submission and voting lifecycle engine",
	Long: `A service that runs timed rap battles and cypher challenges:
event creation, enrollment, round submissions, peer voting and
winner resolution, with an API server and a background worker.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
