package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/assertions"
	"github.com/abdul-hamid-achik/hitwire/packages/capture"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/core/descriptor"
	"github.com/abdul-hamid-achik/hitwire/packages/core/vars"
	"github.com/abdul-hamid-achik/hitwire/packages/history"
	"github.com/abdul-hamid-achik/hitwire/packages/observability"
	"github.com/abdul-hamid-achik/hitwire/packages/output"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

var sendCmd = &cobra.Command{
	Use:   "send <request-file|URL>",
	Short: "Send the requests of a descriptor file, or a single URL",
	Long: `Send one request, or every request of a YAML or JSON descriptor file in
order. Values selected from a response are available to the following
requests as {{name}} and {{request.name}}.

Examples:
  hitwire send https://example.com -H "X-Debug: 1"
  hitwire send login.yaml --var user=alice -o json
  hitwire send api.yaml --proxy proxy.local:3128 --insecure
  hitwire send intranet.yaml --ntlm 'alice:secret@CORP'
  hitwire send users.yaml --select 'id=data.0.id' --schema user.schema.json
  hitwire send api.yaml -e 'status == 200' -e 'header Content-Type contains json'
  hitwire send api.yaml --watch`,
	Args: cobra.ExactArgs(1),
	RunE: sendCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	sendFlags       requestFlags
	outputFlag      string
	outputFileFlag  string
	verboseFlag     bool
	noBodyFlag      bool
	selectFlag      []string
	schemaFlag      string
	expectFlag      []string
	historyFlag     string
	metricsFileFlag string
	watchFlag       bool
	bailFlag        bool
)

func init() {
	addRequestFlags(sendCmd.Flags(), &sendFlags)

	// Inspection flags
	sendCmd.Flags().StringArrayVar(&selectFlag, "select", nil, "Value to select from the response: gjson path, header:<name>, status or duration; name=expr names it")
	sendCmd.Flags().StringVar(&schemaFlag, "schema", "", "JSON schema file the response body must match")
	sendCmd.Flags().StringArrayVarP(&expectFlag, "expect", "e", nil, "Expectation every response must meet, e.g. \"status == 200\" or \"body.id exists\", repeatable")

	// Output flags
	sendCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("HITWIRE_OUTPUT", "console"), "Output format: console, json, tap (env: HITWIRE_OUTPUT)")
	sendCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("HITWIRE_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: HITWIRE_OUTPUT_FILE)")
	sendCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show timings, the sent message and headers")
	sendCmd.Flags().BoolVar(&noBodyFlag, "no-body", false, "Do not print response bodies")

	// Recording flags
	sendCmd.Flags().StringVar(&historyFlag, "history", getEnvString("HITWIRE_HISTORY", ""), "Record exchanges in this sqlite database (env: HITWIRE_HISTORY)")
	sendCmd.Flags().StringVar(&metricsFileFlag, "metrics-file", getEnvString("HITWIRE_METRICS_FILE", ""), "Write prometheus metrics to this textfile (env: HITWIRE_METRICS_FILE)")

	// Execution flags
	sendCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch the descriptor file and send again on change")
	sendCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("HITWIRE_BAIL", false), "Stop at the first failed request (env: HITWIRE_BAIL)")
}

// sender sends the requests of one descriptor file.
type sender struct {
	flags   *requestFlags
	opts    *config.Options
	log     *zerolog.Logger
	store   *history.Store
	metrics *observability.Metrics
	selects []capture.Capture
	expects []*assertions.Assertion
	schema  string
	bail    bool
}

func sendCommand(cmd *cobra.Command, args []string) error {
	target := args[0]
	log := logger(cmd)

	if watchFlag && isURL(target) {
		return exitWith(ExitUsageError, fmt.Errorf("--watch needs a request file"))
	}

	opts, err := sendFlags.options(log)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}

	out := cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return exitWith(ExitConfigError, fmt.Errorf("cannot create output file: %w", err))
		}
		defer f.Close()
		out = f
	}
	if _, err := newFormatter(out); err != nil {
		return exitWith(ExitUsageError, err)
	}

	s := &sender{
		flags:  &sendFlags,
		opts:   opts,
		log:    log,
		schema: schemaFlag,
		bail:   bailFlag,
	}
	for _, expr := range selectFlag {
		s.selects = append(s.selects, capture.Parse(expr))
	}
	if s.expects, err = assertions.ParseAll(expectFlag); err != nil {
		return exitWith(ExitUsageError, err)
	}
	if historyFlag != "" {
		store, err := history.Open(historyFlag, *log)
		if err != nil {
			return exitWith(ExitConfigError, err)
		}
		defer store.Close()
		s.store = store
	}
	if metricsFileFlag != "" {
		s.metrics = observability.NewMetrics()
		s.metrics.SetVersion(version)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := s.runOnce(ctx, target, out)
	if err != nil {
		return exitWith(code, err)
	}
	if !watchFlag {
		if code != ExitSuccess {
			return exitWith(code, nil)
		}
		return nil
	}
	return s.watch(ctx, target, out)
}

func newFormatter(w io.Writer) (output.Formatter, error) {
	return output.New(outputFlag, output.Options{
		Writer:  w,
		Verbose: verboseFlag,
		NoColor: noColorFlag,
		NoBody:  noBodyFlag,
	})
}

// runOnce sends target with a fresh formatter and flushes it. Failures are
// reported through the formatter; the error is only set when the output
// could not be written.
func (s *sender) runOnce(ctx context.Context, target string, w io.Writer) (int, error) {
	formatter, err := newFormatter(w)
	if err != nil {
		return ExitUsageError, err
	}
	formatter.FormatHeader(version)

	code, err := s.run(ctx, target, formatter)
	if err != nil {
		formatter.FormatError(err)
	}
	if flushable, ok := formatter.(output.Flushable); ok {
		if ferr := flushable.Flush(); ferr != nil {
			return ExitConfigError, fmt.Errorf("error writing output: %w", ferr)
		}
	}
	if s.metrics != nil {
		if merr := s.metrics.WriteTextfile(metricsFileFlag); merr != nil {
			s.log.Warn().Err(merr).Str("path", metricsFileFlag).Msg("failed to write metrics")
		}
	}
	return code, nil
}

// run sends every request of target in order and reports each exchange to
// f. It returns the exit code of the first failure.
func (s *sender) run(ctx context.Context, target string, f output.Formatter) (int, error) {
	file, err := loadTarget(target)
	if err != nil {
		return ExitParseError, err
	}
	r, err := s.flags.resolver(file, s.log)
	if err != nil {
		return ExitConfigError, err
	}

	code := ExitSuccess
	fail := func(c int) {
		if code == ExitSuccess {
			code = c
		}
	}
	for _, d := range file.Requests {
		x, err := s.exchange(ctx, d, r, file.Dir())
		switch {
		case errors.Is(err, context.Canceled):
			fail(ExitNetworkError)
			return code, nil
		case err != nil:
			f.FormatError(fmt.Errorf("%s: %w", d.Name, err))
			fail(ExitConfigError)
		default:
			f.FormatExchange(x)
			switch {
			case x.Err != nil:
				fail(ExitNetworkError)
			case !x.Passed():
				fail(ExitCheckFailure)
			}
		}
		if s.bail && code != ExitSuccess {
			break
		}
	}
	return code, nil
}

// exchange sends the request of d and waits for it to finish. The returned
// error is set when the request could not be sent at all.
func (s *sender) exchange(ctx context.Context, d *descriptor.Descriptor, r *vars.Resolver, dir string) (*output.Exchange, error) {
	req, err := d.Build(r, dir)
	if err != nil {
		return nil, err
	}
	if err := s.flags.apply(req); err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}

	id := uuid.NewString()
	x := &output.Exchange{ID: id, Method: method, URL: req.URL}
	done := make(chan struct{})
	collect := &transport.ListenerFuncs{
		OnLoad: func(_ string, resp *transport.Response, snap *transport.Snapshot) {
			x.Response, x.Snapshot = resp, snap
		},
		OnError: func(_ string, err error, snap *transport.Snapshot, partial *transport.PartialResponse) {
			x.Err, x.Snapshot, x.Partial = err, snap, partial
		},
		OnLoadEnd: func(string) { close(done) },
	}

	var (
		listeners []transport.Listener
		inFlight  transport.Listener
	)
	if s.metrics != nil {
		inFlight = s.metrics.Listener(method)
		listeners = append(listeners, inFlight)
	}
	if s.store != nil {
		listeners = append(listeners, s.store.Listener(method, req.URL))
	}
	listeners = append(listeners, collect)
	// the in-flight gauge is released here when no LoadEnd will come
	release := func() {
		if inFlight != nil {
			inFlight.LoadEnd(id)
		}
	}

	t := newTransport(req, id, s.opts, transport.Multi(listeners...))
	s.log.Debug().Str("request", d.Name).Str("id", id).Str("method", method).Str("url", req.URL).Msg("sending request")
	if err := t.Send(ctx); err != nil {
		release()
		return nil, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Abort()
		select {
		case <-done:
		default:
			release()
			return nil, ctx.Err()
		}
	}

	if x.Response != nil {
		s.inspect(x, d, r, dir)
	}
	return x, nil
}

// inspect selects values from the response, stores them for the following
// requests, validates the body against the schema and checks the
// expectations.
func (s *sender) inspect(x *output.Exchange, d *descriptor.Descriptor, r *vars.Resolver, dir string) {
	captures := append(d.Captures(), s.selects...)
	if len(captures) > 0 {
		x.Captures = capture.ExtractAll(x.Response, captures)
		for name, value := range x.Captures {
			r.SetCapture(d.Name, name, value)
		}
	}

	schema := s.schema
	if schema == "" {
		schema = d.SchemaPath(dir)
	}
	if schema != "" {
		x.Schema = capture.ValidateSchemaFile(schema, x.Response.Payload)
	}

	list, err := d.Assertions(r)
	if err != nil {
		x.Assertions = []*assertions.Result{{Expression: strings.Join(d.Expect, "; "), Message: err.Error()}}
		return
	}
	list = append(list, s.expects...)
	if len(list) > 0 {
		x.Assertions = assertions.EvaluateAll(x.Response, list, assertions.WithBaseDir(dir))
	}
}

// watchPaths returns the files whose change triggers a new run.
func (s *sender) watchPaths(target string) []string {
	paths := []string{target}
	if s.schema != "" {
		paths = append(paths, s.schema)
	}
	if s.flags.envFile != "" {
		paths = append(paths, s.flags.envFile)
	}
	return paths
}

// watch sends target again each time one of its files is written, until
// ctx is done.
func (s *sender) watch(ctx context.Context, target string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	watchedDirs := make(map[string]bool)
	for _, path := range s.watchPaths(target) {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				s.log.Warn().Err(err).Str("dir", dir).Msg("failed to watch")
			}
			watchedDirs[dir] = true
		}
	}

	fmt.Fprintf(w, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var (
		mu            sync.Mutex
		debounceTimer *time.Timer
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(event.Name)
			if !watched[abs] || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				mu.Lock()
				defer mu.Unlock()
				if ctx.Err() != nil {
					return
				}
				fmt.Fprintf(w, "\n\nFile changed: %s\nSending again...\n\n", name)
				if _, err := s.runOnce(ctx, target, w); err != nil {
					s.log.Error().Err(err).Msg("run failed")
				}
				fmt.Fprintf(w, "\nWatching for changes... (press Ctrl+C to stop)\n")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("watcher error")
		}
	}
}
