package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	qCmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Queue operations against a running server",
		Long: `Queue operations against a running durq server.

Message Lifecycle:
  Queued → [take] → InFlight → [finish] → gone
                       ↓ [requeue | recover]
                     Queued

Messages are printed in the API layout, so the output of take can be
piped into finish or requeue with --message -.`,
	}
	qCmd.PersistentFlags().String("server", "", "Server URL, http://host:port or grpc://host:port (default $DURQ_HTTP or http://127.0.0.1:8080)")

	qCmd.AddCommand(
		newQueueEnqueueCommand(baseURL),
		newQueueTakeCommand(baseURL),
		newQueueFinishCommand(baseURL),
		newQueueRequeueCommand(baseURL),
		newQueueOrphansCommand(baseURL),
		newQueueRecoverCommand(baseURL),
		newQueueStatsCommand(baseURL),
	)
	return qCmd
}

func newQueueEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue [data...]",
		Short: "Enqueue a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			pretty, _ := cmd.Flags().GetBool("pretty")

			var payload []byte
			switch {
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payload = b
			case data != "":
				payload = []byte(data)
			case len(args) > 0:
				payload = []byte(strings.Join(args, " "))
			default:
				return fmt.Errorf("provide --data, --file or arguments")
			}

			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()
			msg, err := t.Enqueue(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printMessage(cmd.OutOrStdout(), msg, pretty)
		},
	}
	cmd.Flags().StringP("data", "d", "", "Message payload")
	cmd.Flags().StringP("file", "f", "", "Read the payload from a file")
	cmd.Flags().Bool("pretty", false, "Print a readable view of the stored message")
	return cmd
}

func newQueueTakeCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Take the next message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			finish, _ := cmd.Flags().GetBool("finish")
			pretty, _ := cmd.Flags().GetBool("pretty")
			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()

			msg, err := t.Take(cmd.Context())
			if err != nil {
				return err
			}
			if msg == nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "queue is empty")
				return nil
			}
			if err := printMessage(cmd.OutOrStdout(), msg, pretty); err != nil {
				return err
			}
			if finish {
				return t.Finish(cmd.Context(), msg)
			}
			return nil
		},
	}
	cmd.Flags().Bool("finish", false, "Finish the message right after printing it")
	cmd.Flags().Bool("pretty", false, "Print a readable view instead of the API layout")
	return cmd
}

func newQueueFinishCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Finish an in-flight message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := readMessage(cmd)
			if err != nil {
				return err
			}
			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()
			if err := t.Finish(cmd.Context(), msg); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	cmd.Flags().StringP("message", "m", "", "Message as printed by take, or - for stdin")
	return cmd
}

func newQueueRequeueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Return an in-flight message to the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			silent, _ := cmd.Flags().GetBool("silent")
			msg, err := readMessage(cmd)
			if err != nil {
				return err
			}
			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()
			if err := t.Requeue(cmd.Context(), msg, silent); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
			return nil
		},
	}
	cmd.Flags().StringP("message", "m", "", "Message as printed by take, or - for stdin")
	cmd.Flags().Bool("silent", false, "Keep the requeue count and timestamp unchanged")
	return cmd
}

func newQueueOrphansCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List in-flight messages older than a threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			threshold, _ := cmd.Flags().GetDuration("threshold")
			pretty, _ := cmd.Flags().GetBool("pretty")
			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()
			msgs, err := t.Orphans(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if err := printMessage(cmd.OutOrStdout(), m, pretty); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d orphan(s)\n", len(msgs))
			return nil
		},
	}
	cmd.Flags().Duration("threshold", time.Minute, "Minimum age since the message was last taken")
	cmd.Flags().Bool("pretty", false, "Print a readable view instead of the API layout")
	return cmd
}

func newQueueRecoverCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run one orphan recovery sweep on the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()
			n, err := t.Recover(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "requeued:", n)
			return nil
		},
	}
}

func newQueueStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := transportFor(cmd, baseURL)
			if err != nil {
				return err
			}
			defer t.Close()
			st, err := t.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "queue:          %s\n", st.Queue)
			_, _ = fmt.Fprintf(out, "backend:        %s\n", st.Backend)
			_, _ = fmt.Fprintf(out, "queue_size:     %d\n", st.QueueSize)
			if !st.EphemeralEnabled {
				_, _ = fmt.Fprintln(out, "ephemeral:      disabled")
				return nil
			}
			_, _ = fmt.Fprintf(out, "ephemeral_size: %d\n", st.EphemeralSize)
			if st.EphemeralMaxSize > 0 {
				_, _ = fmt.Fprintf(out, "ephemeral_max:  %d\n", st.EphemeralMaxSize)
			}
			return nil
		},
	}
}
