package cmd

import (
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/repository"
)

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent management audit entries",
		Args:  cobra.NoArgs,
		RunE:  AuditHandler,
	}
	auditCmd.Flags().Int("limit", 20, "Number of entries to show")
	return auditCmd
}

// AuditHandler prints the newest audit entries from the receiver database.
func AuditHandler(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := store.ListAudit(cmd.Context(), limit)
	if err != nil {
		return err
	}

	renderAudit(cmd, entries)
	return nil
}

func renderAudit(cmd *cobra.Command, entries []domain.AuditEntry) {
	var data [][]string
	for _, e := range entries {
		data = append(data, []string{
			e.CreatedAt.Format(time.RFC3339),
			e.AgentID,
			e.Action,
			string(e.Stage),
			e.Origin,
		})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"TIME", "AGENT", "ACTION", "STAGE", "ORIGIN"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
