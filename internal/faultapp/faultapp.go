// Package faultapp is a small web application that misbehaves on startup in
// ways selected by its environment. It exercises the host's output capture
// and failure reporting.
package faultapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/programme-lv/ancm/internal/logging"
)

const (
	EnvStartupValue = "ASPNETCORE_INPROCESS_STARTUP_VALUE"
	EnvRandomValue  = "ASPNETCORE_INPROCESS_RANDOM_VALUE"
	EnvPort         = "ASPNETCORE_PORT"
)

// Startup values that make the application exit before it starts listening
const (
	CheckLargeStdOutWrites     = "CheckLargeStdOutWrites"
	CheckLargeStdErrWrites     = "CheckLargeStdErrWrites"
	CheckLogFile               = "CheckLogFile"
	CheckErrLogFile            = "CheckErrLogFile"
	CheckOversizedStdErrWrites = "CheckOversizedStdErrWrites"
	CheckOversizedStdOutWrites = "CheckOversizedStdOutWrites"
	CheckUTF8                  = "CheckUTF8"
	CheckConsoleFunctions      = "CheckConsoleFunctions"
)

// IgnoreShutdown starts normally but never honours a shutdown request
const IgnoreShutdown = "IgnoreShutdown"

// StartupValues lists every value that fails startup
var StartupValues = []string{
	CheckLargeStdOutWrites,
	CheckLargeStdErrWrites,
	CheckLogFile,
	CheckErrLogFile,
	CheckOversizedStdErrWrites,
	CheckOversizedStdOutWrites,
	CheckUTF8,
	CheckConsoleFunctions,
}

const (
	LargeWriteSize     = 4096
	OversizedWriteSize = 5000
)

// ExitCodeUnhandled is returned after an exception escapes a request
const ExitCodeUnhandled = 1

// Options is the parsed environment of one run
type Options struct {
	StartupValue string
	RandomValue  string
	Port         string
	Stdout       io.Writer
	Stderr       io.Writer
}

func OptionsFromEnv(getenv func(string) string, stdout, stderr io.Writer) Options {
	return Options{
		StartupValue: strings.TrimSuffix(getenv(EnvStartupValue), ";"),
		RandomValue:  getenv(EnvRandomValue),
		Port:         getenv(EnvPort),
		Stdout:       stdout,
		Stderr:       stderr,
	}
}

// Main runs the application against the process environment until it exits
// or receives an interrupt.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return Run(ctx, OptionsFromEnv(os.Getenv, os.Stdout, os.Stderr))
}

// Run executes the application and returns its exit code. Cancelling ctx
// requests a graceful shutdown.
func Run(ctx context.Context, opts Options) int {
	if fails(opts) {
		return 0
	}
	return serve(ctx, opts)
}

// fails writes the output of a failing startup value. It reports false when
// the value does not fail startup.
func fails(opts Options) bool {
	out, errOut := opts.Stdout, opts.Stderr
	switch opts.StartupValue {
	case CheckLargeStdOutWrites:
		fmt.Fprint(out, strings.Repeat("a", LargeWriteSize))
	case CheckLargeStdErrWrites:
		fmt.Fprint(errOut, strings.Repeat("a", LargeWriteSize))
	case CheckLogFile:
		fmt.Fprintf(out, "Random number: %s\n", opts.RandomValue)
	case CheckErrLogFile:
		fmt.Fprintf(errOut, "Random number: %s\n", opts.RandomValue)
	case CheckOversizedStdErrWrites:
		fmt.Fprintln(errOut, strings.Repeat("a", OversizedWriteSize))
	case CheckOversizedStdOutWrites:
		fmt.Fprintln(out, strings.Repeat("a", OversizedWriteSize))
	case CheckUTF8:
		fmt.Fprintln(out, "彡⾔")
	case CheckConsoleFunctions:
		fmt.Fprintf(out, "Is Console redirection: %s\n", boolText(redirected(out)))
	default:
		return false
	}
	return true
}

// redirected reports whether w is something other than a terminal
func redirected(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

func boolText(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func serve(ctx context.Context, opts Options) int {
	logger := logging.New(opts.Stderr, slog.LevelInfo)
	if opts.Port == "" {
		fmt.Fprintf(opts.Stderr, "%s is not set\n", EnvPort)
		return 1
	}

	lis, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", opts.Port))
	if err != nil {
		fmt.Fprintf(opts.Stderr, "failed to listen: %v\n", err)
		return 1
	}

	exit := make(chan int, 1)
	srv := &http.Server{Handler: routes(opts, exit), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
		}
	}()
	fmt.Fprintf(opts.Stdout, "Now listening on: http://%s\n", lis.Addr())

	shutdown := ctx.Done()
	if opts.StartupValue == IgnoreShutdown {
		shutdown = nil
	}

	code := 0
	select {
	case <-shutdown:
		fmt.Fprintln(opts.Stdout, "Application is shutting down...")
	case code = <-exit:
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	return code
}

func routes(opts Options, exit chan<- int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/HelloWorld", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Hello World")
	})
	mux.HandleFunc("/RandomNumber", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, opts.RandomValue)
	})
	mux.HandleFunc("/Throw", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(opts.Stderr, "Unhandled exception. System.InvalidOperationException: Thrown from request")
		w.WriteHeader(http.StatusInternalServerError)
		terminate(exit, ExitCodeUnhandled)
	})
	mux.HandleFunc("/Exit", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Query().Get("code"))
		if err != nil {
			code = 0
		}
		w.WriteHeader(http.StatusOK)
		terminate(exit, code)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Running")
	})
	return mux
}

func terminate(exit chan<- int, code int) {
	select {
	case exit <- code:
	default:
	}
}
