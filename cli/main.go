// Command cli is an interactive client for the run stream server. It can
// start runs, follow them, and resume a run's stream after a disconnect.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/runstream/internal/auth"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

type rootOptions struct {
	addr       string
	token      string
	sessionID  string
	reconnects int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "runstream-cli",
		Short:         "Client for the run stream server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "ws://localhost:8090/ws", "WebSocket server address")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("RUNSTREAM_TOKEN"), "Token sent when the server requires authentication")
	cmd.PersistentFlags().StringVar(&opts.sessionID, "session", "", "Session id for started runs")
	cmd.PersistentFlags().IntVar(&opts.reconnects, "reconnects", 3, "How many times to resume a stream after the connection drops")

	cmd.AddCommand(newStartCmd(opts), newResumeCmd(opts), newChatCmd(opts), newTokenCmd())
	return cmd
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <agent|team|workflow> <target-id> <message>",
		Short: "Start a run and follow its events",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.RunKind(args[0])
			out := cmd.OutOrStdout()

			client, err := Dial(opts.addr, opts.token, out)
			if err != nil {
				return err
			}
			defer func() { client.Close() }()

			if err := client.Start(kind, args[1], args[2], opts.sessionID); err != nil {
				return err
			}
			return follow(&client, opts, out)
		},
	}
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run's stream after the given event index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := Dial(opts.addr, opts.token, out)
			if err != nil {
				return err
			}
			defer func() { client.Close() }()

			var lastIndex *int
			if cmd.Flags().Changed("last") {
				lastIndex = &last
			}
			if err := client.Reconnect(args[0], lastIndex); err != nil {
				return err
			}
			return follow(&client, opts, out)
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "Index of the last event already seen; omit to replay everything retained")
	return cmd
}

// follow streams the client's run to completion, redialing and resuming
// from the last seen index when the connection drops.
func follow(client **Client, opts *rootOptions, out io.Writer) error {
	attempts := 0
	for {
		err := (*client).Stream()
		if errors.Is(err, errRunEnded) {
			return nil
		}
		var serverErr *serverError
		if errors.As(err, &serverErr) {
			return err
		}
		runID := (*client).RunID()
		if runID == "" || attempts >= opts.reconnects {
			return err
		}
		attempts++

		fmt.Fprintf(out, "\nconnection lost (%v), resuming %s (attempt %d)\n", err, runID, attempts)
		time.Sleep(time.Duration(attempts) * 500 * time.Millisecond)

		last := (*client).LastEventIndex()
		(*client).Close()
		next, dialErr := Dial(opts.addr, opts.token, out)
		if dialErr != nil {
			fmt.Fprintf(out, "redial failed: %v\n", dialErr)
			continue
		}
		*client = next
		if err := next.Reconnect(runID, last); err != nil {
			return err
		}
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send each input line to an agent and print its reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client, err := Dial(opts.addr, opts.token, out)
			if err != nil {
				return err
			}
			defer func() { client.Close() }()

			fmt.Fprintln(out, "Type a message and press Enter to send.")
			fmt.Fprintln(out, "Commands: /resume <run-id> [last-index], /quit")

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				switch {
				case input == "":
					continue
				case input == "/quit":
					fmt.Fprintln(out, "Bye!")
					return nil
				case strings.HasPrefix(input, "/resume "):
					runID, last, err := parseResume(strings.Fields(input)[1:])
					if err != nil {
						fmt.Fprintln(out, err)
						continue
					}
					err = client.Reconnect(runID, last)
					if err == nil {
						err = follow(&client, opts, out)
					}
					if err != nil {
						fmt.Fprintln(out, err)
					}
				default:
					err := client.Start(domain.RunKindAgent, agentID, input, opts.sessionID)
					if err == nil {
						err = follow(&client, opts, out)
					}
					if err != nil {
						fmt.Fprintln(out, err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "default", "Agent id to talk to")
	return cmd
}

func parseResume(args []string) (string, *int, error) {
	switch len(args) {
	case 1:
		return args[0], nil, nil
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "", nil, fmt.Errorf("last index must be an integer: %w", err)
		}
		return args[0], &n, nil
	default:
		return "", nil, errors.New("usage: /resume <run-id> [last-index]")
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a JWT accepted by a server configured with the same JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}
			token, err := auth.NewJWTValidator(secret).Sign(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret")
	cmd.Flags().StringVar(&userID, "user", "cli", "User id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
