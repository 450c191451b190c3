package main

import (
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pacegate/pacegate/pkg/pacegate"
)

func loadConfig() (*pacegate.Config, error) {
	if configPath == "" {
		return pacegate.DefaultConfig(), nil
	}
	return pacegate.LoadConfigFromFile(configPath)
}

func newGroupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "Render the effective rate-limit group configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{
				"Group", "Base RPS", "Burst", "RPM", "RPM Burst",
				"Err Window", "Reduction", "Min Ratio", "Recovery",
			})
			for _, group := range pacegate.Groups() {
				gc, ok := cfg.Groups[group]
				if !ok {
					continue
				}
				rpm, rpmBurst := "-", "-"
				if gc.DualLimit() {
					rpm = formatFloat(gc.RequestsPerMinute)
					rpmBurst = strconv.Itoa(gc.RPMBurstCapacity)
				}
				t.AppendRow(table.Row{
					string(group),
					formatFloat(gc.BaseRPS),
					strconv.Itoa(gc.BurstCapacity),
					rpm,
					rpmBurst,
					gc.ErrorWindow.Std().String(),
					formatFloat(gc.ReductionRatio),
					formatFloat(gc.MinRatio),
					gc.RecoveryDelay.Std().String(),
				})
			}
			t.AppendFooter(table.Row{
				"safety factor", formatFloat(cfg.SafetyFactor),
				"", "waiter timeout", cfg.WaiterTimeout.Std().String(),
			})
			t.Render()
			return nil
		},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
