package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the durq client.
// It registers the queue and bench command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "durq",
		Short: "durq client commands",
	}
	root.AddCommand(NewQueueCommand(baseURL))
	root.AddCommand(NewBenchCommand())
	return root
}
