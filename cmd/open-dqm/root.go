package main

import (
	"sync"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "open-dqm",
	Short:         "Open-DQM evaluates data quality rules and prioritizes the resulting alerts.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setCommandExecutionContext(commandExecutionContext{
			CommandPath:       cmd.CommandPath(),
			UsesStructuredLog: true,
		})
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, scanCmd, migrateCmd, seedRulesCmd)
}

// commandExecutionContext records which command is running so the fatal
// error path can log with the right shape.
type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	execCtxMu sync.Mutex
	execCtx   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	execCtxMu.Lock()
	defer execCtxMu.Unlock()
	execCtx = ctx
}

func currentCommandExecutionContext() commandExecutionContext {
	execCtxMu.Lock()
	defer execCtxMu.Unlock()
	return execCtx
}
