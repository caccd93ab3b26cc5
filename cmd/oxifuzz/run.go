package main

import (
	"bufio"
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/unlink2/oxifuzz/pkg/config"
	"github.com/unlink2/oxifuzz/pkg/driver"
	"github.com/unlink2/oxifuzz/pkg/expect"
	"github.com/unlink2/oxifuzz/pkg/metrics"
	"github.com/unlink2/oxifuzz/pkg/output"
	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/reporting"
	"github.com/unlink2/oxifuzz/pkg/runner"
	"github.com/unlink2/oxifuzz/pkg/transform"
	"github.com/unlink2/oxifuzz/pkg/words"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Fuzz a template and execute every payload",
	Long: `Run reads a template, replaces every occurrence of the target marker
with a random word from the word pool, and feeds each resulting payload
to the selected runner.

Runner auto-selection (--runner none):
  --exec set        shell runner
  --url set         http runner
  --jwt-header set  jwt runner
  otherwise         pass-through

Examples:
  oxifuzz run -i tpl.txt --word admin --word guest
  oxifuzz run -i tpl.txt -w words.txt --exec "sqlite3 test.db OXIFUZZ"
  oxifuzz run -i body.json --url http://localhost:8080/api --http-method POST --contains error
  oxifuzz run -i claims.json --jwt-header '{"alg":"HS256"}' --jwt-signature hs256 --jwt-secret s3cret
  oxifuzz run -i tpl.txt -w words.txt --seed 42 -n 100 --expect-regex 'token=[a-f0-9]+'`,
	RunE: runFuzz,
}

func init() {
	runCmd.Flags().StringP("input", "i", "", "template file (default stdin; '-' for stdin)")
	runCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	runCmd.Flags().StringP("target", "t", "", "target marker replaced in the template")
	runCmd.Flags().String("exec-target", "", "marker replaced in argv, urls, headers and jwt headers")
	runCmd.Flags().StringArray("word", nil, "add a literal word to the pool")
	runCmd.Flags().StringArrayP("word-list", "w", nil, "add a word-list file, split by the list terminator")
	runCmd.Flags().StringArray("word-file", nil, "add an entire file as a single word")
	runCmd.Flags().String("word-list-term", "", "word-list split terminator")
	runCmd.Flags().IntP("n-runs", "n", 0, "number of iterations")
	runCmd.Flags().Int("n-threads", 0, "number of workers (above 1, output order is unspecified)")
	runCmd.Flags().Int("delay-ms", 0, "sleep after each output, in milliseconds")
	runCmd.Flags().Uint64("seed", 0, "random seed for reproducibility")
	runCmd.Flags().String("random-file", "", "read randomness from this file (e.g. /dev/urandom)")
	runCmd.Flags().String("runner", "none", "runner kind (none|passthrough|shell|http|jwt); none auto-selects")
	runCmd.Flags().String("exec", "", "shell command to run for each payload")
	runCmd.Flags().Bool("no-stdin", false, "do not pass the payload to the command's stdin")
	runCmd.Flags().String("url", "", "send each payload as an http request body to this url")
	runCmd.Flags().StringArray("header", nil, "http request header (Name:Value)")
	runCmd.Flags().String("http-method", "", "http method (GET|HEAD|POST|PUT|DELETE)")
	runCmd.Flags().Int("http-timeout", 0, "http timeout in milliseconds")
	runCmd.Flags().Bool("no-headers", false, "do not include response status and headers in the output")
	runCmd.Flags().String("jwt-header", "", "jwt header template")
	runCmd.Flags().String("jwt-header-file", "", "read the jwt header template from a file")
	runCmd.Flags().String("jwt-signature", "none", "jwt signature algorithm (none|hs256|rs256)")
	runCmd.Flags().String("jwt-secret", "", "jwt hmac secret or rsa key (inline)")
	runCmd.Flags().String("jwt-secret-file", "", "jwt hmac secret or rsa pkcs#8 pem key file")
	runCmd.Flags().StringArray("expect", nil, "expect this exact output")
	runCmd.Flags().StringArray("contains", nil, "expect the output to contain this")
	runCmd.Flags().StringArray("expect-regex", nil, "expect the output to match this regex")
	runCmd.Flags().IntSlice("expect-len", nil, "expect an output of exactly this many bytes")
	runCmd.Flags().IntSlice("expect-exit-code", nil, "expect this runner exit code")
	runCmd.Flags().Bool("raw", false, "emit raw bytes instead of formatted lines")
	runCmd.Flags().Bool("no-color", false, "disable colored output")
	runCmd.Flags().Bool("dry-run", false, "print what would be executed without side effects")
	runCmd.Flags().Bool("no-fail-on-err", false, "log iteration errors instead of aborting")
	runCmd.Flags().String("run-log", "", "JSONL per-iteration log path")
	runCmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address")
}

func runFuzz(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	logLevel := reporting.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		logLevel = reporting.LogLevelDebug
	}
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Framework.LogFormat),
	})

	literals, _ := cmd.Flags().GetStringArray("word")
	listFiles, _ := cmd.Flags().GetStringArray("word-list")
	wordFiles, _ := cmd.Flags().GetStringArray("word-file")
	pool, err := words.NewPool(literals, listFiles, cfg.Fuzz.WordListTerm, wordFiles)
	if err != nil {
		return err
	}
	poolWords := make([]string, 0, pool.Len())
	for _, w := range pool.Words() {
		poolWords = append(poolWords, string(w))
	}
	logger.Debug("Word pool loaded", "size", pool.Len(), "words", poolWords)

	rng, seed, err := buildRand(cmd, logger)
	if err != nil {
		return err
	}

	run, err := buildRunner(cmd, cfg)
	if err != nil {
		return err
	}

	expects, err := buildExpectations(cmd)
	if err != nil {
		return err
	}

	template, err := readTemplate(cmd)
	if err != nil {
		return err
	}

	sink, closeSink, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeSink()

	raw, _ := cmd.Flags().GetBool("raw")
	noColor, _ := cmd.Flags().GetBool("no-color")
	writer := output.NewWriter(sink, raw, noColor)

	var runLog *reporting.RunLog
	if cfg.Reporting.RunLog != "" {
		runLog = reporting.NewRunLog(cfg.Reporting.RunLog, logger)
	}

	var met *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		met = metrics.New(registry)
		metrics.Serve(cfg.Metrics.Listen, registry, logger)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noFailOnErr, _ := cmd.Flags().GetBool("no-fail-on-err")

	drv, err := driver.New(driver.Params{
		Config: driver.Config{
			Runs:     cfg.Fuzz.NRuns,
			Threads:  cfg.Fuzz.NThreads,
			Delay:    time.Duration(cfg.Fuzz.DelayMS) * time.Millisecond,
			FailFast: !noFailOnErr,
			Session:  time.Now().Format(time.RFC3339),
			Seed:     seed,
		},
		Template: template,
		Engine:   transform.NewEngine(transform.NewTarget(cfg.Fuzz.Target), pool),
		Rand:     rng,
		Runner:   run,
		RunCtx: &runner.Context{
			Pool:   pool,
			DryRun: dryRun,
			Log:    logger,
		},
		Expects: expects,
		Out:     writer,
		Log:     logger,
		RunLog:  runLog,
		Metrics: met,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kind, err := drv.Run(ctx)
	if err != nil {
		logger.Error("Fuzz run failed", "error", err)
		kind = transform.Fold(kind, transform.ExitRunnerFailed)
	}
	exitCode = kind.Code()
	return nil
}

// applyFlagOverrides layers changed flags over the file configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Fuzz.Target, _ = flags.GetString("target")
	}
	if flags.Changed("exec-target") {
		cfg.Fuzz.ExecTarget, _ = flags.GetString("exec-target")
	}
	if flags.Changed("word-list-term") {
		cfg.Fuzz.WordListTerm, _ = flags.GetString("word-list-term")
	}
	if flags.Changed("n-runs") {
		cfg.Fuzz.NRuns, _ = flags.GetInt("n-runs")
	}
	if flags.Changed("n-threads") {
		cfg.Fuzz.NThreads, _ = flags.GetInt("n-threads")
	}
	if flags.Changed("delay-ms") {
		cfg.Fuzz.DelayMS, _ = flags.GetInt("delay-ms")
	}
	if flags.Changed("http-method") {
		cfg.HTTP.Method, _ = flags.GetString("http-method")
	}
	if flags.Changed("http-timeout") {
		cfg.HTTP.TimeoutMS, _ = flags.GetInt("http-timeout")
	}
	if flags.Changed("run-log") {
		cfg.Reporting.RunLog, _ = flags.GetString("run-log")
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen, _ = flags.GetString("metrics-listen")
	}
}

// buildRand picks the random source: an explicit seed wins, then a random
// file, and without either a fresh seed is drawn from OS entropy so the
// run can still be reproduced.
func buildRand(cmd *cobra.Command, logger *reporting.Logger) (rand.Source, *uint64, error) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		seed, _ := flags.GetUint64("seed")
		return rand.NewSeeded(seed), &seed, nil
	}
	if path, _ := flags.GetString("random-file"); path != "" {
		return rand.NewFile(path), nil, nil
	}

	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return nil, nil, fmt.Errorf("draw seed from entropy: %w", err)
	}
	seed := binary.LittleEndian.Uint64(buf[:])
	logger.Info("Using generated seed", "seed", seed)
	return rand.NewSeeded(seed), &seed, nil
}

func buildRunner(cmd *cobra.Command, cfg *config.Config) (runner.Runner, error) {
	flags := cmd.Flags()

	kindName, _ := flags.GetString("runner")
	kind, err := runner.ParseKind(kindName)
	if err != nil {
		return nil, err
	}

	exec, _ := flags.GetString("exec")
	noStdin, _ := flags.GetBool("no-stdin")
	url, _ := flags.GetString("url")
	headers, _ := flags.GetStringArray("header")
	noHeaders, _ := flags.GetBool("no-headers")
	jwtHeader, _ := flags.GetString("jwt-header")
	jwtHeaderFile, _ := flags.GetString("jwt-header-file")
	jwtSignature, _ := flags.GetString("jwt-signature")
	jwtSecret, _ := flags.GetString("jwt-secret")
	jwtSecretFile, _ := flags.GetString("jwt-secret-file")

	return runner.New(runner.Options{
		Kind:                   kind,
		ArgTarget:              cfg.Fuzz.ExecTarget,
		Exec:                   exec,
		NoStdin:                noStdin,
		URL:                    url,
		Headers:                headers,
		Method:                 cfg.HTTP.Method,
		IncludeResponseHeaders: !noHeaders,
		TimeoutMS:              cfg.HTTP.TimeoutMS,
		JWTHeader:              jwtHeader,
		JWTHeaderFile:          jwtHeaderFile,
		JWTSignature:           jwtSignature,
		JWTSecret:              jwtSecret,
		JWTSecretFile:          jwtSecretFile,
	})
}

func buildExpectations(cmd *cobra.Command) (expect.List, error) {
	flags := cmd.Flags()
	var list expect.List

	equals, _ := flags.GetStringArray("expect")
	for _, e := range equals {
		list = append(list, expect.Equals(e))
	}
	contains, _ := flags.GetStringArray("contains")
	for _, c := range contains {
		list = append(list, expect.Contains(c))
	}
	patterns, _ := flags.GetStringArray("expect-regex")
	for _, p := range patterns {
		re, err := expect.NewRegex(p)
		if err != nil {
			return nil, err
		}
		list = append(list, re)
	}
	lens, _ := flags.GetIntSlice("expect-len")
	for _, n := range lens {
		list = append(list, expect.Len(n))
	}
	codes, _ := flags.GetIntSlice("expect-exit-code")
	for _, c := range codes {
		code := c
		list = append(list, expect.ExitCode{Code: &code})
	}

	return list, nil
}

// readTemplate slurps the template before any iteration begins.
func readTemplate(cmd *cobra.Command) ([]byte, error) {
	path, _ := cmd.Flags().GetString("input")
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read template from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return data, nil
}

// openOutput returns the output sink and a close function that flushes it.
func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" || path == "-" {
		w := bufio.NewWriter(os.Stdout)
		return w, func() { _ = w.Flush() }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	return w, func() {
		_ = w.Flush()
		_ = f.Close()
	}, nil
}
