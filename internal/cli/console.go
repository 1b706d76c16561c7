package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/commands"
)

var consoleMode string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run operator commands from stdin",
	Long: `Read one command per line from stdin and print each result. Type "help"
for the command list. Sessions are read-only unless --mode=operator.`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVar(&consoleMode, "mode", string(commands.ModeReadOnly), "session mode (read-only or operator)")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	mode, err := commands.ParseMode(consoleMode)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	env := commands.Env{
		Store:      a.db,
		Allocation: a.allocation,
		Production: a.production,
		Lifecycle:  a.lifecycle,
	}
	return console(cmd.Context(), env, mode, a.logger, cmd.InOrStdin(), cmd.OutOrStdout())
}

// console executes lines from in until EOF, writing results to out. A
// failing command is reported and the session continues.
func console(ctx context.Context, env commands.Env, mode commands.Mode, logger *zap.Logger, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		c := commands.Parse(scanner.Text())
		if c == nil {
			continue
		}

		logger.Debug("executing command", zap.String("command", c.Name), zap.Strings("args", c.Args))
		result := commands.Execute(ctx, env, c, mode)
		if result.Error != nil {
			if kind := apperr.KindOf(result.Error); kind != "" {
				fmt.Fprintf(out, "error [%s]: %s\n", kind, apperr.Detail(result.Error))
			} else {
				fmt.Fprintf(out, "error: %v\n", result.Error)
			}
			continue
		}
		fmt.Fprintln(out, result.Message)
	}
	return scanner.Err()
}
