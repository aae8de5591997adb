package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a data set through the cache and print JSON",
	}
	cmd.PersistentFlags().String("dataset", "", "Data set id")
	_ = cmd.MarkPersistentFlagRequired("dataset")

	cmd.AddCommand(newQueryMetaCmd(), newQueryRowsCmd(), newQueryTrendCmd())
	return cmd
}

func newQueryMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Print flattened data set metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := build(cfg, logger)
			if err != nil {
				return err
			}
			dataSetID, _ := cmd.Flags().GetString("dataset")

			md, err := c.service.LoadMetadata(cmd.Context(), dataSetID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), md)
		},
	}
}

func newQueryRowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Print one window of normalized table rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := build(cfg, logger)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			dataSetID, _ := flags.GetString("dataset")
			indicatorID, _ := flags.GetString("indicator")
			periodArg, _ := flags.GetString("time-period")
			locationArg, _ := flags.GetString("location")
			start, _ := flags.GetInt("start")
			end, _ := flags.GetInt("end")
			sortArg, _ := flags.GetString("sort")

			md, err := c.service.LoadMetadata(cmd.Context(), dataSetID)
			if err != nil {
				return err
			}
			sel, err := resolveSelection(md, indicatorID, periodArg, locationArg)
			if err != nil {
				return err
			}
			if end <= start {
				end = start + cfg.WindowSize
			}

			var sort *ees.Sort
			if sortArg != "" {
				field, dir, _ := strings.Cut(sortArg, ":")
				sort = ees.ParseSort(field, dir)
			}

			res, err := c.service.GetRows(cmd.Context(), ees.RowWindowRequest{
				DataSetID: dataSetID,
				Selection: sel,
				StartRow:  start,
				EndRow:    end,
				Sort:      sort,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("indicator", "", "Indicator id")
	cmd.Flags().String("time-period", "", "Time period as CODE|PERIOD, e.g. AY|2022/2023")
	cmd.Flags().String("location", "", "Location as LEVEL|CODE, e.g. LA|E09000001")
	cmd.Flags().Int("start", 0, "First row of the window (zero-based)")
	cmd.Flags().Int("end", 0, "Row after the last row of the window (default start + DEFAULT_WINDOW_SIZE)")
	cmd.Flags().String("sort", "", "Sort as field:asc or field:desc")
	_ = cmd.MarkFlagRequired("indicator")
	_ = cmd.MarkFlagRequired("time-period")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func newQueryTrendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Print an indicator's trend at one location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := build(cfg, logger)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			dataSetID, _ := flags.GetString("dataset")
			indicatorID, _ := flags.GetString("indicator")
			locationArg, _ := flags.GetString("location")
			periodArgs, _ := flags.GetStringSlice("time-period")

			md, err := c.service.LoadMetadata(cmd.Context(), dataSetID)
			if err != nil {
				return err
			}
			ind, ok := md.FindIndicator(indicatorID)
			if !ok {
				return fmt.Errorf("indicator %q not found in data set %s", indicatorID, dataSetID)
			}
			loc, err := resolveLocation(md, locationArg)
			if err != nil {
				return err
			}
			var periods []ees.TimePeriod
			for _, arg := range periodArgs {
				tp, err := resolveTimePeriod(md, arg)
				if err != nil {
					return err
				}
				periods = append(periods, tp)
			}

			points, err := c.service.GetTrend(cmd.Context(), ees.TrendRequest{
				DataSetID:   dataSetID,
				Indicator:   ind,
				Location:    loc,
				TimePeriods: periods,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), points)
		},
	}
	cmd.Flags().String("indicator", "", "Indicator id")
	cmd.Flags().String("location", "", "Location as LEVEL|CODE")
	cmd.Flags().StringSlice("time-period", nil, "Time periods as CODE|PERIOD (default: latest TREND_PERIODS)")
	_ = cmd.MarkFlagRequired("indicator")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func resolveSelection(md *ees.Metadata, indicatorID, periodArg, locationArg string) (ees.Selection, error) {
	ind, ok := md.FindIndicator(indicatorID)
	if !ok {
		return ees.Selection{}, fmt.Errorf("indicator %q not found in data set %s", indicatorID, md.DataSetID)
	}
	tp, err := resolveTimePeriod(md, periodArg)
	if err != nil {
		return ees.Selection{}, err
	}
	loc, err := resolveLocation(md, locationArg)
	if err != nil {
		return ees.Selection{}, err
	}
	return ees.Selection{Indicator: ind, TimePeriod: tp, Location: loc}, nil
}

func resolveTimePeriod(md *ees.Metadata, arg string) (ees.TimePeriod, error) {
	code, period, ok := strings.Cut(arg, "|")
	if !ok {
		return ees.TimePeriod{}, fmt.Errorf("time period %q must be CODE|PERIOD", arg)
	}
	tp, found := md.FindTimePeriod(code, period)
	if !found {
		return ees.TimePeriod{}, fmt.Errorf("time period %q not found in data set %s", arg, md.DataSetID)
	}
	return tp, nil
}

func resolveLocation(md *ees.Metadata, arg string) (ees.Location, error) {
	level, code, ok := strings.Cut(arg, "|")
	if !ok {
		return ees.Location{}, fmt.Errorf("location %q must be LEVEL|CODE", arg)
	}
	loc, found := md.FindLocation(level, code)
	if !found {
		return ees.Location{}, fmt.Errorf("location %q not found in data set %s", arg, md.DataSetID)
	}
	return loc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
