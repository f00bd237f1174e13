package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/oracle-avs/internal/config"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/registry"
)

func newPredictCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Create and inspect prediction markets",
	}
	cmd.AddCommand(newPredictCreateCommand())
	cmd.AddCommand(newPredictListCommand())
	cmd.AddCommand(newPredictGetCommand())
	return cmd
}

// openLocalRegistry opens the registry the performer writes to.
func openLocalRegistry(ctx context.Context) (*node, error) {
	n := newNode(config.RolePerformer)
	if err := n.openRegistry(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func newPredictCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <input>",
		Short: "Create a prediction from a \"Condition: ...\" input string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endFlag, _ := cmd.Flags().GetString("end")
			inFlag, _ := cmd.Flags().GetDuration("in")
			taskDef, _ := cmd.Flags().GetInt("task-definition-id")

			var end time.Time
			switch {
			case endFlag != "":
				t, err := time.Parse(time.RFC3339, endFlag)
				if err != nil {
					return fmt.Errorf("--end must be RFC 3339: %w", err)
				}
				end = t
			case inFlag > 0:
				end = time.Now().Add(inFlag)
			}

			ctx := cmd.Context()
			n, err := openLocalRegistry(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			p, err := n.reg.Create(ctx, registry.CreateRequest{
				InputString:      args[0],
				EndTime:          end,
				TaskDefinitionID: taskDef,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().String("end", "", "End time (RFC 3339); defaults to 24h from now")
	cmd.Flags().Duration("in", 0, "End time as an offset from now, e.g. 10m")
	cmd.Flags().Int("task-definition-id", 0, "Task definition id carried by the submitted task")
	return cmd
}

func newPredictListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List predictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx := cmd.Context()
			n, err := openLocalRegistry(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			preds, err := n.reg.List(ctx)
			if err != nil {
				return err
			}
			var out []model.Prediction
			for _, p := range preds {
				if status == "" || p.Status == status {
					out = append(out, p)
				}
			}

			if asJSON {
				if out == nil {
					out = []model.Prediction{}
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			printTable(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().String("status", "", "Only show predictions with this status")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func newPredictGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one prediction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := openLocalRegistry(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			p, err := n.reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, preds []model.Prediction) {
	if len(preds) == 0 {
		fmt.Fprintln(w, "No predictions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRESULT\tEND\tCONDITION")
	for _, p := range preds {
		result := p.ResultOr("-")
		if result == "" {
			result = `""`
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Status, result, p.EndTime.Format(time.RFC3339), p.Condition)
	}
	tw.Flush()
}
