package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/fetchkit"
)

// NewRootCmd builds the fetchkit command. Each call returns a fresh command
// so flag state never leaks between runs.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetchkit [METHOD] URL",
		Short: "Send an HTTP request through the fetchkit pipeline",
		Long: `fetchkit sends one HTTP request and prints the response body.

The request goes through the same interceptors and plugins a program using
the library would configure, so a YAML profile (--config) can switch on
caching, retries, dedupe, throttling, rate limiting and circuit breaking.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRequest,
	}

	cmd.AddCommand(newVersionCmd())

	cmd.Flags().StringP("config", "c", "", "YAML profile with client defaults and plugins")
	cmd.Flags().String("base-url", "", "Base URL relative request URLs resolve against")
	cmd.Flags().StringArrayP("param", "p", nil, "Query param as key=value (repeatable)")
	cmd.Flags().StringArrayP("header", "H", nil, "Header as 'Name: value' (repeatable)")
	cmd.Flags().StringP("data", "d", "", "Request body; JSON objects and arrays are sent as JSON")
	cmd.Flags().Duration("timeout", 30*time.Second, "Request timeout (0 disables)")
	cmd.Flags().Int("retry", 0, "Retry failed requests this many times")
	cmd.Flags().Duration("retry-interval", 0, "Wait between retries")
	cmd.Flags().Bool("cache", false, "Cache responses in memory (useful with --repeat)")
	cmd.Flags().Int("repeat", 1, "Send the request this many times")
	cmd.Flags().BoolP("include", "i", false, "Print the status line and response headers")
	cmd.Flags().BoolP("verbose", "v", false, "Log the request pipeline to stderr")

	return cmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), fetchkit.GetVersion())
		},
	}
}

func runRequest(cmd *cobra.Command, args []string) error {
	method, target := http.MethodGet, args[0]
	if len(args) == 2 {
		method, target = strings.ToUpper(args[0]), args[1]
	}

	configPath, _ := cmd.Flags().GetString("config")
	baseURL, _ := cmd.Flags().GetString("base-url")
	rawParams, _ := cmd.Flags().GetStringArray("param")
	rawHeaders, _ := cmd.Flags().GetStringArray("header")
	data, _ := cmd.Flags().GetString("data")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	retries, _ := cmd.Flags().GetInt("retry")
	retryInterval, _ := cmd.Flags().GetDuration("retry-interval")
	cache, _ := cmd.Flags().GetBool("cache")
	repeat, _ := cmd.Flags().GetInt("repeat")
	include, _ := cmd.Flags().GetBool("include")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if len(args) == 1 && data != "" {
		method = http.MethodPost
	}
	if repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}
	header, err := parseHeaders(rawHeaders)
	if err != nil {
		return err
	}

	var opts []fetchkit.Option
	if configPath != "" {
		profile, err := fetchkit.LoadProfile(configPath)
		if err != nil {
			return err
		}
		opts = append(opts, profile.Options()...)
	}
	if verbose {
		opts = append(opts, fetchkit.WithSimpleLogger())
	}

	// registered after the profile's plugins, so these run outermost
	var plugins []fetchkit.Plugin
	if retries > 0 {
		plugins = append(plugins, fetchkit.RetryPlugin(fetchkit.RetryOptions{
			RetryTimes:    retries,
			RetryInterval: retryInterval,
			Enable:        fetchkit.Bool(true),
		}))
	}
	if cache {
		plugins = append(plugins, fetchkit.CachePlugin(fetchkit.CacheOptions{}))
	}
	if len(plugins) > 0 {
		opts = append(opts, fetchkit.WithPlugins(plugins...))
	}

	client := fetchkit.New(opts...)
	if err := client.ValidationError(); err != nil {
		return err
	}

	call := &fetchkit.Config{
		Method:  method,
		URL:     target,
		BaseURL: baseURL,
		Header:  header,
		Params:  params,
	}
	if cmd.Flags().Changed("timeout") || configPath == "" {
		call.Timeout = timeout
	}
	if data != "" {
		call.Data = parseData(data)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	out := cmd.OutOrStdout()
	for i := 0; i < repeat; i++ {
		resp, err := client.Request(ctx, call)
		if err != nil {
			if e, ok := fetchkit.AsError(err); ok && e.Response != nil {
				printResponse(out, e.Response, include)
			}
			return err
		}
		printResponse(out, resp, include)
	}
	return nil
}

func parseParams(raw []string) (map[string]any, error) {
	params := map[string]any{}
	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", p)
		}
		// repeated keys become a list
		switch prev := params[k].(type) {
		case nil:
			params[k] = v
		case []any:
			params[k] = append(prev, v)
		default:
			params[k] = []any{prev, v}
		}
	}
	return params, nil
}

func parseHeaders(raw []string) (fetchkit.Header, error) {
	var h fetchkit.Header
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return h, fmt.Errorf("invalid header %q, want 'Name: value'", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

// parseData sends JSON objects and arrays as structured data and anything
// else as a raw string body.
func parseData(s string) any {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

func printResponse(w io.Writer, resp *fetchkit.Response, include bool) {
	if include {
		fmt.Fprintf(w, "%d %s\n", resp.Status, resp.StatusText)
		names := resp.Header.Names()
		sort.Strings(names)
		for _, name := range names {
			for _, v := range resp.Header.Values(name) {
				fmt.Fprintf(w, "%s: %s\n", name, v)
			}
		}
		if resp.FromCache {
			fmt.Fprintf(w, "X-Fetchkit-Cache: hit\n")
		}
		fmt.Fprintln(w)
	}

	body := resp.Body
	if json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			body = buf.Bytes()
		}
	}
	w.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(w)
	}
}
