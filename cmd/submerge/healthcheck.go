package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var healthcheckFlags struct {
	listen  string
	timeout time.Duration
}

// healthcheckCmd lets container images probe the server without curl.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe GET /healthz of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := deriveHealthzURL(healthcheckFlags.listen)
		if err != nil {
			return err
		}
		return runHealthcheck(u, healthcheckFlags.timeout)
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)

	healthcheckCmd.Flags().StringVar(&healthcheckFlags.listen, "listen", "127.0.0.1:25500", "服务监听地址或 URL")
	healthcheckCmd.Flags().DurationVar(&healthcheckFlags.timeout, "timeout", 3*time.Second, "探测超时")
}

func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if s == "" {
		return "", errors.New("listen address is empty")
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid listen url %q: %w", listen, err)
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + "/healthz"
		u.RawQuery = ""
		u.Fragment = ""
		return u.String(), nil
	}
	if _, err := strconv.Atoi(s); err == nil {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	// Wildcard binds are probed on loopback.
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(u string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(u)
	if err != nil {
		return fmt.Errorf("healthcheck %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck %s: unexpected status %d", u, resp.StatusCode)
	}
	return nil
}
