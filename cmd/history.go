package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapexec/config"
	"swapexec/pkg/journal"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show previously executed runs",
	Long: `Show swaps, rebalances and approvals executed from this machine, newest
first. Pass a run id (or a prefix of one) to show a single run in full.

Examples:
  swapexec history
  swapexec history --limit 5
  swapexec history 3f2a9c`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 shows all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	j, err := journal.Open(cfg.HistoryFile)
	if err != nil {
		return err
	}

	var entries []journal.Entry
	if len(args) == 1 {
		entry, err := j.Get(args[0])
		if err != nil {
			return err
		}
		entries = []journal.Entry{*entry}
	} else {
		entries = j.List(historyLimit)
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	if len(entries) == 0 {
		fmt.Printf("\nNo runs recorded yet (%s).\n\n", j.Path())
		return nil
	}

	if len(args) == 1 {
		displayHistoryEntry(entries[0])
		return nil
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                 RUN HISTORY")
	fmt.Println(strings.Repeat("=", 90))
	for _, e := range entries {
		fmt.Printf("  %s  %s  %-9s  %-10s  %s\n",
			color.HiBlackString(shortID(e.ID)),
			e.Time.Local().Format("2006-01-02 15:04:05"),
			e.Kind,
			coloredOutcome(e.Outcome),
			e.Summary)
	}
	fmt.Println(strings.Repeat("=", 90) + "\n")
	return nil
}

func displayHistoryEntry(e journal.Entry) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                      RUN %s", shortID(e.ID))
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  ID:        %s\n", e.ID)
	fmt.Printf("  Time:      %s\n", e.Time.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Kind:      %s\n", e.Kind)
	fmt.Printf("  Summary:   %s\n", e.Summary)
	fmt.Printf("  Outcome:   %s\n", coloredOutcome(e.Outcome))
	if e.TxHash != "" {
		fmt.Printf("  Tx Hash:   %s\n", color.CyanString(e.TxHash))
		fmt.Printf("  Block:     %d\n", e.BlockNumber)
		fmt.Printf("  Gas Used:  %d\n", e.GasUsed)
	}
	if e.Error != "" {
		fmt.Printf("  Error:     %s (%s)\n", color.RedString(e.Error), e.ErrorKind)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func coloredOutcome(o journal.Outcome) string {
	label := strings.ToUpper(string(o))
	switch o {
	case journal.OutcomeConfirmed:
		return color.GreenString(label)
	case journal.OutcomeReverted, journal.OutcomeFailed:
		return color.RedString(label)
	default:
		return label
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
