/*
Package cli provides command-line interface utilities for Parley.

The cli package includes output formatters, a progress reporter, signal
handling and the error types used by the parley command.

Output Formatting:

Commands print text on a terminal and JSON otherwise, unless a format is
requested explicitly:

	format := cli.ResolveFormat(flagValue, os.Stdout)
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, result); err != nil {
		return err
	}

Values implementing TextRenderer control their own text rendering.

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(total)
	progress.Update(n)
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit codes so scripts can tell a
blocked negotiation from an operational failure.
*/
package cli
