/*
Package cli provides command-line helpers shared by the gemini-proxy
commands.

Output Formatting:

Command results render as text tables, JSON or CSV:

	format, err := cli.ParseOutputFormat(flagValue)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, result)

Results implementing Tabular render as aligned columns in text mode and
as rows in CSV mode.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

Errors:

ConfigError and CommandError classify failures; ExitCode maps them to the
process exit status.
*/
package cli
