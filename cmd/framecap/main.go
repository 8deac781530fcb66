package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"framecap/internal/config"
	"framecap/internal/harness"
	"framecap/internal/runner"
	"framecap/internal/server"
	"framecap/pkg/capture"
	"framecap/pkg/frame"
)

const version = "0.2.0"

var (
	configPath       string
	codecName        string
	shell            string
	usePTY           bool
	workingDirectory string
	logFile          string
	listenAddr       string
	showStats        bool
)

var rootCmd = &cobra.Command{
	Use:     "framecap",
	Short:   "framecap - chunk-framed output capture for supervised runners",
	Long:    `framecap executes chunks of program code on behalf of a supervising harness and delivers each chunk's stdout and stderr as length-framed units over the inherited file descriptors, so the harness can demultiplex output per chunk without ambiguity.`,
	Version: version,
}

// loadOptions merges the config file and command-line flags into runner
// options. Flags win where both are set.
func loadOptions() (runner.Options, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return runner.Options{}, cfg, err
	}

	if shell != "" {
		cfg.Shell = shell
	}
	if codecName != "" {
		cfg.Codec = codecName
	}
	if usePTY {
		cfg.PTY = true
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	codec, err := frame.CodecByName(cfg.Codec)
	if err != nil {
		return runner.Options{}, cfg, err
	}

	return runner.Options{
		Shell:  cfg.Shell,
		Codec:  codec,
		UsePTY: cfg.PTY,
		Dir:    workingDirectory,
	}, cfg, nil
}

// runnerLogger builds the runner's diagnostic logger. The captured channels
// (stdout and stderr of this process) are off limits, so diagnostics go to
// a file or nowhere.
func runnerLogger(cfg config.Config) (*slog.Logger, error) {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, nil)), nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a capture session over the inherited file descriptors (internal use)",
	Long: `Run a capture session: chunk scripts arrive as frames on stdin, and each
chunk's captured output leaves as one frame on stdout (primary channel) and
one frame on stderr (error channel).

This command is spawned by a harness with all three descriptors connected
to pipes. It refuses to start when stdout is a terminal, since frames are
not meant for human eyes.

Exit status: 0 on clean end of the control stream, 1 on usage or control
errors, 2 when a chunk died with a fatal error (a diagnostic frame precedes
the exit), 3 when a frame could not be completed on the wire.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("stdout is a terminal; run is only useful under a harness that reads frames")
		}

		opts, cfg, err := loadOptions()
		if err != nil {
			return err
		}
		logger, err := runnerLogger(cfg)
		if err != nil {
			return err
		}
		opts.Logger = logger

		err = runner.Run(os.Stdin, os.Stdout, os.Stderr, opts)
		if err == nil {
			return nil
		}
		logger.Error("session failed", "error", err)
		if errors.Is(err, runner.ErrTransport) {
			os.Exit(capture.ExitTransportFailure)
		}
		return err
	},
}

var execCmd = &cobra.Command{
	Use:   "exec script [script...]",
	Short: "Execute chunk scripts through a spawned runner and print the captured output",
	Long: `Spawn a runner subprocess, execute each script argument as one chunk, and
write each chunk's captured primary output to stdout and error output to
stderr. This is the one-shot harness, mostly useful for trying the protocol
out and for debugging runner behavior.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, cfg, err := loadOptions()
		if err != nil {
			return err
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating framecap binary: %w", err)
		}

		runnerArgs := []string{"run", "--codec", opts.Codec.Name(), "--shell", cfg.Shell}
		if opts.UsePTY {
			runnerArgs = append(runnerArgs, "--pty")
		}
		if workingDirectory != "" {
			runnerArgs = append(runnerArgs, "--working-directory", workingDirectory)
		}
		if cfg.LogFile != "" {
			runnerArgs = append(runnerArgs, "--log-file", cfg.LogFile)
		}

		client, err := harness.Spawn(cmd.Context(), opts.Codec, self, runnerArgs...)
		if err != nil {
			return err
		}
		if showStats {
			client.SetLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
		}

		for _, script := range args {
			result, err := client.Run(script)
			if err != nil {
				_ = client.Close()
				return err
			}
			_, _ = cmd.OutOrStdout().Write(result.Primary)
			_, _ = cmd.ErrOrStderr().Write(result.Error)
		}

		return client.Close()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve chunk execution over a websocket",
	Long: `Listen for websocket connections on /session. Every text message received
is executed as one chunk; the reply is two binary messages holding the raw
primary and error frames for that chunk.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, cfg, err := loadOptions()
		if err != nil {
			return err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		return server.New(opts, logger).ListenAndServe(cfg.Listen)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Print the frames of a captured stream in human-readable form",
	Long: `Read a framed stream from a file (or stdin when no file is given) and print
each frame's declared size followed by its payload. Useful for inspecting
what a runner actually put on the wire.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := frame.CodecByName(codecName)
		if err != nil {
			return err
		}

		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			in = f
		}

		for n := 1; ; n++ {
			payload, err := frame.Read(in, codec)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("frame %d: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "frame %d (%d bytes):\n", n, len(payload))
			_, _ = cmd.OutOrStdout().Write(payload)
			fmt.Fprintln(cmd.OutOrStdout())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (missing file is ignored)")

	runCmd.Flags().StringVar(&codecName, "codec", "", "Frame header encoding: binary or delimited (default: binary)")
	runCmd.Flags().StringVar(&shell, "shell", "", "Shell that interprets chunk scripts (default: sh)")
	runCmd.Flags().BoolVar(&usePTY, "pty", false, "Run chunks under a pseudo-terminal (merges stderr into the primary channel)")
	runCmd.Flags().StringVar(&workingDirectory, "working-directory", "", "Working directory for chunk commands")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Append runner diagnostics to this file (default: discard)")

	execCmd.Flags().StringVar(&codecName, "codec", "", "Frame header encoding: binary or delimited (default: binary)")
	execCmd.Flags().StringVar(&shell, "shell", "", "Shell that interprets chunk scripts (default: sh)")
	execCmd.Flags().BoolVar(&usePTY, "pty", false, "Run chunks under a pseudo-terminal")
	execCmd.Flags().StringVar(&workingDirectory, "working-directory", "", "Working directory for chunk commands")
	execCmd.Flags().StringVar(&logFile, "log-file", "", "Append runner diagnostics to this file")
	execCmd.Flags().BoolVar(&showStats, "stats", false, "Log runner resource usage after each chunk")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (default: 127.0.0.1:22124)")
	serveCmd.Flags().StringVar(&codecName, "codec", "", "Frame header encoding: binary or delimited (default: binary)")
	serveCmd.Flags().StringVar(&shell, "shell", "", "Shell that interprets chunk scripts (default: sh)")
	serveCmd.Flags().BoolVar(&usePTY, "pty", false, "Run chunks under a pseudo-terminal")

	decodeCmd.Flags().StringVar(&codecName, "codec", "", "Frame header encoding: binary or delimited (default: binary)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
