package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lianghu1024/agentgate/client"
)

var (
	addr    string
	token   string
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentgate-cli",
		Short: "Client tool for the agentgate framed-JSON protocol",
		Long: `agentgate-cli talks to an agentgate server over its length-prefixed
JSON protocol: connect, authenticate, and invoke actions from the
command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7410", "server address")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "auth token (tokenID.secret)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")

	rootCmd.AddCommand(
		helloCmd(),
		authCmd(),
		callCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	return client.Dial(addr, client.Options{
		DialTimeout: 5 * time.Second,
		CallTimeout: timeout,
	})
}

// dialAuthed connects and, when a token was given, authenticates.
func dialAuthed(ctx context.Context) (*client.Client, error) {
	c, err := dial()
	if err != nil {
		return nil, err
	}
	if token != "" {
		if _, err := c.Authenticate(ctx, token); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func helloCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Connect and print the server's transport hints",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			h := c.Hello()
			fmt.Printf("serverVersion:       %d\n", h.ServerVersion)
			fmt.Printf("maxFrame:            %d\n", h.MaxFrame)
			fmt.Printf("maxPayload:          %d\n", h.MaxPayload)
			fmt.Printf("heartbeatIntervalMs: %d\n", h.HeartbeatIntervalMs)
			return nil
		},
	}
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate and print the session grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Authenticate(cmd.Context(), token)
			if err != nil {
				return err
			}
			fmt.Printf("sessionId: %s\n", result.SessionID)
			fmt.Printf("scopes:    %v\n", result.Scopes)
			if result.ExpiresAt != nil {
				fmt.Printf("expiresAt: %s\n", time.UnixMilli(*result.ExpiresAt).Format(time.RFC3339))
			}
			return nil
		},
	}
}

func callCmd() *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Invoke one action and print the response data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialAuthed(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			var data any
			if payload != "" {
				data = json.RawMessage(payload)
			}
			result, err := c.Call(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}
			if len(result) == 0 {
				fmt.Println("ok")
				return nil
			}
			var pretty any
			if err := json.Unmarshal(result, &pretty); err == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
				return nil
			}
			fmt.Println(string(result))
			return nil
		},
	}

	cmd.Flags().StringVarP(&payload, "data", "d", "", "request data as raw JSON")
	return cmd
}

func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch a filesystem path and poll for events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one path required")
			}
			c, err := dialAuthed(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			payload, _ := json.Marshal(map[string]string{"path": args[0]})
			if _, err := c.Call(cmd.Context(), "WATCH", json.RawMessage(payload)); err != nil {
				return err
			}
			fmt.Printf("watching %s (poll every %s, Ctrl-C to stop)\n", args[0], interval)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					result, err := c.Call(cmd.Context(), "WATCH_POLL", json.RawMessage(payload))
					if err != nil {
						return err
					}
					var resp struct {
						Events []json.RawMessage `json:"events"`
					}
					if err := json.Unmarshal(result, &resp); err != nil || len(resp.Events) == 0 {
						continue
					}
					for _, ev := range resp.Events {
						fmt.Println(string(ev))
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}
