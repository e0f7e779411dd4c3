// Command ingestctl is a thin HTTP client for the ingest scheduler's
// five operator commands: start-resumable, resume, progress,
// get-latest-job, and archive.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "ingestctl",
		Short: "Operate the bar ingest scheduler",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "ingest-service base URL")

	root.AddCommand(
		startCmd(),
		resumeCmd(),
		progressCmd(),
		latestCmd(),
		archiveCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *resty.Client {
	return resty.New().SetBaseURL(addr).SetTimeout(30 * time.Second)
}

func startCmd() *cobra.Command {
	var start, end string
	var windowDays, maxSymbols, archiveKeepDays int
	var minCap, maxCap float64
	var exchanges []string
	var includeETFs, activeOnly, archiveOnFinish bool

	cmd := &cobra.Command{
		Use:   "start-resumable",
		Short: "Start a new resumable ingest job",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"requested_start":   start,
				"requested_end":     end,
				"window_days":       windowDays,
				"min_cap":           minCap,
				"exchanges":         exchanges,
				"include_etfs":      includeETFs,
				"active_only":       activeOnly,
				"max_symbols":       maxSymbols,
				"archive_on_finish": archiveOnFinish,
				"archive_keep_days": archiveKeepDays,
			}
			if cmd.Flags().Changed("max-cap") {
				body["max_cap"] = maxCap
			}
			resp, err := client().R().SetBody(body).Post("/jobs")
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "requested_start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "requested_end (YYYY-MM-DD)")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "override the default window size")
	cmd.Flags().Float64Var(&minCap, "min-cap", 0, "minimum market cap filter")
	cmd.Flags().Float64Var(&maxCap, "max-cap", 0, "maximum market cap filter")
	cmd.Flags().StringSliceVar(&exchanges, "exchanges", nil, "restrict to these exchanges")
	cmd.Flags().IntVar(&maxSymbols, "max-symbols", 0, "cap on the number of symbols selected")
	cmd.Flags().BoolVar(&includeETFs, "include-etfs", false, "include ETFs in the universe filter")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "restrict to actively trading symbols")
	cmd.Flags().BoolVar(&archiveOnFinish, "archive-on-finish", false, "archive bars older than archive-keep-days once the job completes")
	cmd.Flags().IntVar(&archiveKeepDays, "archive-keep-days", 0, "live history to retain when archive-on-finish is set")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [job-id]",
		Short: "Resume a job, reclaiming any items left running by a crash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().R().Post("/jobs/" + args[0] + "/resume")
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress [job-id]",
		Short: "Show a job's current progress counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().R().Get("/jobs/" + args[0] + "/progress")
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func latestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-latest-job",
		Short: "Show the most recently created job",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().R().Get("/jobs/latest")
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func archiveCmd() *cobra.Command {
	var keepDays int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move bars older than keep-days into the archive table",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().R().
				SetBody(map[string]interface{}{"keep_days": keepDays}).
				Post("/archive")
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "minimum days of live history to retain")
	_ = cmd.MarkFlagRequired("keep-days")
	return cmd
}

func printResponse(resp *resty.Response) error {
	var pretty interface{}
	if err := json.Unmarshal(resp.Body(), &pretty); err != nil {
		fmt.Println(string(resp.Body()))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if resp.IsError() {
		return fmt.Errorf("request failed with status %d", resp.StatusCode())
	}
	return nil
}
