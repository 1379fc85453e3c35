package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/nbexec/internal/process"
	"github.com/yoanbernabeu/nbexec/internal/reactor"
	"github.com/yoanbernabeu/nbexec/internal/stats"
)

// errRunsFailed is returned when at least one command did not succeed
var errRunsFailed = errors.New("commands failed")

type runOptions struct {
	json     bool
	stream   bool
	timeout  time.Duration
	shell    string
	readSize int
	env      []string
}

// outcome is one command's Result, or the error that prevented it
type outcome struct {
	command string
	result  process.Result
	err     error
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [<command>...]",
		Short: "Run local commands concurrently",
		Long: `Runs every command as its own child process through the shell, all
driven by one event loop. Each command produces exactly one result.
The exit status is 1 if any command failed.

Examples:
  nbexec run -- "sleep 1; echo a" "echo b"
  nbexec run --json -- "uname -a"
  nbexec run --stream --timeout 30s -- "make test" "make lint"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCommands(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Print output as it arrives")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Kill commands still running after this duration")
	cmd.Flags().StringVar(&opts.shell, "shell", "", "Shell used to run commands (default from config)")
	cmd.Flags().IntVar(&opts.readSize, "read-size", 0, "Bytes per non-blocking read (default from config)")
	cmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "Extra environment variable KEY=VALUE (repeatable)")

	return cmd
}

func (a *app) runCommands(ctx context.Context, commands []string, opts runOptions) error {
	vars, err := parseEnv(opts.env)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	loop, stop, err := a.startLoop()
	if err != nil {
		return err
	}
	defer stop()

	var outMu sync.Mutex
	writers := make([]*prefixWriter, len(commands))
	runners := make([]*process.Runner, len(commands))
	outcomes := make([]outcome, len(commands))

	for i, command := range commands {
		outcomes[i].command = command

		ropts := a.runnerOptions(opts)
		if len(vars) > 0 {
			ropts = append(ropts, process.WithEnv(environ(os.Environ(), vars)))
		}
		if opts.stream {
			writers[i] = &prefixWriter{prefix: fmt.Sprintf("[%d] ", i+1), w: a.out, mu: &outMu}
			ropts = append(ropts, process.WithOutputHandler(writers[i].write))
		}

		a.PrintVerboseCommand(command)
		r := process.New(loop, command, ropts...)
		if _, err := r.Start(); err != nil {
			outcomes[i].err = err
			continue
		}
		runners[i] = r
	}

	for i, r := range runners {
		if r == nil {
			continue
		}
		res, _ := r.Wait(ctx)
		outcomes[i].result = res
		if writers[i] != nil {
			writers[i].flush()
		}
	}

	return a.report(outcomes, opts)
}

// startLoop runs a private event loop for one invocation
func (a *app) startLoop() (*reactor.Loop, func(), error) {
	loop, err := reactor.New(reactor.WithLogger(a.logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event loop: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := loop.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("event_loop_stopped", "error", err)
		}
	}()

	stop := func() {
		loop.Stop()
		<-done
		_ = loop.Close()
	}
	return loop, stop, nil
}

func (a *app) runnerOptions(opts runOptions) []process.Option {
	shell := firstNonEmpty(opts.shell, a.cfg.Shell)
	readSize := opts.readSize
	if readSize == 0 {
		readSize = a.cfg.ReadSize
	}

	ropts := []process.Option{
		process.WithShell(shell),
		process.WithReadSize(readSize),
		process.WithLogger(a.logger),
	}
	if a.collector != nil {
		ropts = append(ropts, process.WithObserver(a.collector))
	}
	return ropts
}

func (a *app) report(outcomes []outcome, opts runOptions) error {
	agg := stats.NewAggregator()
	failed := 0
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			continue
		}
		agg.Add(o.result)
		if !o.result.Succeeded {
			failed++
		}
	}

	if opts.json {
		if err := writeJSON(a.out, outcomes); err != nil {
			return err
		}
	} else {
		for i, o := range outcomes {
			a.printOutcome(i+1, o, !opts.stream)
		}
		if len(outcomes) > 1 {
			fmt.Fprintln(a.out)
			fmt.Fprint(a.out, agg.Summary().Format())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d %w", failed, len(outcomes), errRunsFailed)
	}
	return nil
}

func (a *app) printOutcome(n int, o outcome, withOutput bool) {
	label := fmt.Sprintf("[%d] %s", n, o.command)

	switch {
	case o.err != nil:
		a.PrintError("%s: %v", label, o.err)
		return
	case o.result.Succeeded:
		a.PrintSuccess("%s %s", headerStyle.Render(label), mutedStyle.Render(resultDetail(o.result)))
	default:
		a.PrintError("%s %s", headerStyle.Render(label), mutedStyle.Render(resultDetail(o.result)))
	}

	if withOutput && len(o.result.Output) > 0 {
		text := strings.TrimRight(o.result.Text(), "\n")
		for _, line := range strings.Split(text, "\n") {
			fmt.Fprintln(a.out, "    "+line)
		}
	}
}

func resultDetail(res process.Result) string {
	return fmt.Sprintf("(%s, pid %d, %s)", res.Reason, res.PID, res.Duration().Round(time.Millisecond))
}

// writeJSON prints one Response per command; spawn failures get a synthetic one
func writeJSON(w io.Writer, outcomes []outcome) error {
	responses := make([]process.Response, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			responses = append(responses, process.Response{
				Cmd:        o.command,
				ReturnCode: -1,
				Reason:     o.err.Error(),
			})
			continue
		}
		responses = append(responses, o.result.Response())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(responses); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}

// prefixWriter tags complete output lines with a per-command prefix.
// Writes come from the loop goroutine; flush runs after completion.
type prefixWriter struct {
	prefix string
	w      io.Writer
	mu     *sync.Mutex
	buf    []byte
}

func (p *prefixWriter) write(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, chunk...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return
		}
		fmt.Fprintf(p.w, "%s%s\n", p.prefix, p.buf[:i])
		p.buf = p.buf[i+1:]
	}
}

func (p *prefixWriter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) > 0 {
		fmt.Fprintf(p.w, "%s%s\n", p.prefix, p.buf)
		p.buf = nil
	}
}
