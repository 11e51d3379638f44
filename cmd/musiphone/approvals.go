package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/cluster"
	"github.com/metasound/musiphone/internal/server"
)

const defaultNodeURL = "http://127.0.0.1:8080"

func nodeURL(cmd *cobra.Command) string {
	u, _ := cmd.Flags().GetString("node")
	return strings.TrimRight(u, "/")
}

func newApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List tickets waiting for approval on a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Tickets []approval.Ticket `json:"tickets"`
			}
			if err := cluster.GetJSON(cmd.Context(), nodeURL(cmd)+"/approvals", &out); err != nil {
				return err
			}

			if len(out.Tickets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending approvals")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTION\tTITLE\tCLIENT\tEXPIRES IN")
			for _, t := range out.Tickets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.Request.Action, t.Request.Title, t.Request.ClientAddress,
					time.Until(t.ExpiresAt).Round(time.Second))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("node", defaultNodeURL, "base URL of the node")
	return cmd
}

func newApproveCmd() *cobra.Command {
	var reject bool

	cmd := &cobra.Command{
		Use:   "approve <ticket-id>",
		Short: "Approve or reject a pending ticket on a running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			err := cluster.PostJSON(cmd.Context(), nodeURL(cmd)+"/approvals/"+id, server.ResolveRequest{Approved: !reject}, nil)
			if err != nil {
				return err
			}

			verb := "approved"
			if reject {
				verb = "rejected"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ticket %s %s\n", id, verb)
			return nil
		},
	}
	cmd.Flags().String("node", defaultNodeURL, "base URL of the node")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approving")
	return cmd
}
