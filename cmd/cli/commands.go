package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"buildagent/internal/auth"
	"buildagent/internal/broker"
	"buildagent/internal/claim"
	"buildagent/internal/sdk/github"
	"buildagent/internal/storage"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func submitCmd(brokerURL *string) *cobra.Command {
	var spec broker.TaskSpec
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enqueue a task for a build-less container",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := json.Marshal(spec)
			if err != nil {
				return err
			}
			resp, err := httpClient.Post(strings.TrimRight(*brokerURL, "/")+"/api/build/task", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("sending task: %w", err)
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&spec.AgentID, "agent-id", "", "agent id handed to the container")
	cmd.Flags().StringVar(&spec.SecretKey, "secret-key", "", "agent secret key")
	cmd.Flags().StringVar(&spec.ProjectID, "project-id", "", "project id")
	for _, f := range []string{"agent-id", "secret-key", "project-id"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func claimCmd(brokerURL *string) *cobra.Command {
	var containerID string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Make a single claim attempt, as a container would",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u := strings.TrimRight(*brokerURL, "/") + claim.ClaimPath + "?" + url.Values{"containerId": {containerID}}.Encode()
			p := &claim.Poller{URL: u, Client: httpClient}
			state, res, err := p.Attempt(cmd.Context())
			if err != nil {
				return err
			}
			if state != claim.Claimed {
				fmt.Fprintln(cmd.OutOrStdout(), "no task")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&containerID, "container-id", hostname, "container id to claim for")
	return cmd
}

func statusCmd(brokerURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := httpClient.Get(strings.TrimRight(*brokerURL, "/") + "/api/build/task/" + url.PathEscape(args[0]))
			if err != nil {
				return fmt.Errorf("requesting status: %w", err)
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func apiCmd() *cobra.Command {
	var (
		apiURL   string
		username string
	)
	cmd := &cobra.Command{
		Use:   "api <path>",
		Short: "GET an API path with the agent's credentials (token from GITHUB_TOKEN)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := os.Getenv("GITHUB_TOKEN")
			if token == "" {
				return fmt.Errorf("GITHUB_TOKEN not set")
			}
			creds := auth.Token(token)
			if username != "" {
				creds = auth.Basic(username, token)
			}

			var out json.RawMessage
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := github.NewClient(apiURL).Execute(ctx, creds, github.Request{Path: args[0]}, &out); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", github.DefaultAPIURL, "API base URL")
	cmd.Flags().StringVar(&username, "username", "", "use basic auth with this username")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <log-dir>",
		Short: "Check a build's step logs against its checksum manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.VerifyManifest(args[0]); err != nil {
				return fmt.Errorf("verifying %s: %w", args[0], err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "manifest ok")
			return err
		},
	}
}

func printResponse(w io.Writer, resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("broker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, err = fmt.Fprintln(w, strings.TrimSpace(string(body)))
	return err
}
