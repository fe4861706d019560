package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/danmuck/devsession/internal/admin"
	"github.com/spf13/cobra"
)

const (
	defaultAdmin  = "http://127.0.0.1:7480"
	envAdminToken = "DEVSESSION_ADMIN_TOKEN"
)

// adminClient fetches read-only views from a node's admin surface.
type adminClient struct {
	base  string
	token string
	http  *http.Client
}

func newAdminClient(base, token string) (*adminClient, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("admin url %q: %w", base, err)
	}
	return &adminClient{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (c *adminClient) get(path string, query url.Values) ([]byte, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func sessionsCmd() *cobra.Command {
	var (
		base   string
		token  string
		role   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Print the session listing of a running node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClient(base, token)
			if err != nil {
				return err
			}
			query := url.Values{}
			if role != "" {
				query.Set("role", role)
			}
			if !asJSON {
				body, err := client.get("/sessions.txt", query)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			body, err := client.get("/sessions", query)
			if err != nil {
				return err
			}
			var out struct {
				Nodes []admin.SessionList `json:"nodes"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return fmt.Errorf("decode sessions: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out.Nodes)
		},
	}
	cmd.Flags().StringVarP(&base, "admin", "a", defaultAdmin, "admin base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv(envAdminToken), "admin bearer token")
	cmd.Flags().StringVarP(&role, "role", "r", "", "only nodes with this role (acceptor|initiator)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON rows instead of the text listing")
	return cmd
}

func healthCmd() *cobra.Command {
	var base, token string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print node status from a running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClient(base, token)
			if err != nil {
				return err
			}
			body, err := client.get("/health", nil)
			if err != nil {
				return err
			}
			var out struct {
				Status  string             `json:"status"`
				Uptime  string             `json:"uptime"`
				Version string             `json:"version"`
				Nodes   []admin.NodeStatus `json:"nodes"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return fmt.Errorf("decode health: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status %s  version %s  uptime %s\n", out.Status, out.Version, out.Uptime)
			for _, n := range out.Nodes {
				fmt.Fprintf(w, "  %-20s %-10s sessions=%d tasks=%d pending=%d\n",
					n.Node, n.Role, n.Sessions, n.Tasks, n.Pending)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&base, "admin", "a", defaultAdmin, "admin base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv(envAdminToken), "admin bearer token")
	return cmd
}
