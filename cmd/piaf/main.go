// Command piaf issues a single HTTP request and prints the response.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joprice/piaf"
	"github.com/joprice/piaf/internal/obs"
)

var (
	flagMethod   string
	flagHeaders  []string
	flagData     string
	flagSource   string
	flagInsecure bool
	flagConfig   string
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:          "piaf URL",
		Short:        "Issue one HTTP request, negotiating HTTP/1.1 or HTTP/2 via ALPN",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}
	root.Flags().StringVarP(&flagMethod, "method", "X", "GET", "request method")
	root.Flags().StringArrayVarP(&flagHeaders, "header", "H", nil, "request header, 'Name: value' (repeatable)")
	root.Flags().StringVarP(&flagData, "data", "d", "", "request body")
	root.Flags().StringVar(&flagSource, "source", "", "source address to bind, 'ip' or 'ip:port'")
	root.Flags().BoolVar(&flagInsecure, "insecure", false, "skip TLS certificate verification")
	root.Flags().StringVar(&flagConfig, "config", "", "YAML config file")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, rawurl string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}

	c := &piaf.Client{UserAgent: cfg.UserAgent}
	if c.UserAgent == "" {
		c.UserAgent = "piaf/1"
	}
	if flagInsecure || cfg.Insecure {
		c.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	source := flagSource
	if source == "" {
		source = cfg.Source
	}
	if source != "" {
		if !strings.Contains(source, ":") {
			source += ":0"
		}
		addr, err := net.ResolveTCPAddr("tcp", source)
		if err != nil {
			return fmt.Errorf("bad source address %q: %w", source, err)
		}
		c.LocalAddr = addr
	}
	if flagVerbose {
		lg, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer lg.Sync() //nolint:errcheck
		c.Logger = obs.ZapLogger{L: lg.Sugar(), Min: obs.Debug}
	}

	var fields []piaf.Field
	names := make([]string, 0, len(cfg.Headers))
	for name := range cfg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields, piaf.Field{Name: name, Value: cfg.Headers[name]})
	}
	for _, h := range flagHeaders {
		i := strings.IndexByte(h, ':')
		if i <= 0 {
			return fmt.Errorf("bad header %q, want 'Name: value'", h)
		}
		fields = append(fields, piaf.Field{
			Name:  strings.TrimSpace(h[:i]),
			Value: strings.TrimSpace(h[i+1:]),
		})
	}

	var body []byte
	if flagData != "" {
		body = []byte(flagData)
	}

	res, err := c.Call(ctx, flagMethod, fields, body, rawurl)
	if err != nil {
		color.Red("%v", err)
		return err
	}

	statusColor := color.New(color.FgGreen)
	switch {
	case res.StatusCode >= 500:
		statusColor = color.New(color.FgRed)
	case res.StatusCode >= 400:
		statusColor = color.New(color.FgRed)
	case res.StatusCode >= 300:
		statusColor = color.New(color.FgYellow)
	}
	statusColor.Fprintf(os.Stderr, "%s %s\n", res.Proto, res.Status)
	keys := make([]string, 0, len(res.Header))
	for k := range res.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range res.Header[k] {
			fmt.Fprintf(os.Stderr, "%s: %s\n", k, v)
		}
	}

	payload, err := res.Body.Drain()
	if err != nil {
		color.Red("%v", err)
		return err
	}
	_, err = os.Stdout.Write(payload)
	return err
}
