package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/model"
	"github.com/raysh454/fatt/internal/utils"
)

var (
	headerColor = color.New(color.FgHiCyan, color.Bold)
	foundColor  = color.New(color.FgRed, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printScanSummary(w io.Writer, s *model.ScanSummary) {
	headerColor.Fprintln(w, "Scan complete")
	printf(w, "  domains:     %d (resolved %d, unresolved %d)\n", s.Domains, s.Resolved, s.Unresolved)
	printf(w, "  checks:      %d\n", s.Checks)
	if s.Matches > 0 {
		foundColor.Fprintf(w, "  matches:     %d\n", s.Matches)
	} else {
		okColor.Fprintf(w, "  matches:     %d\n", s.Matches)
	}
	if s.Errors > 0 {
		warnColor.Fprintf(w, "  errors:      %d\n", s.Errors)
	} else {
		printf(w, "  errors:      %d\n", s.Errors)
	}
	printf(w, "  elapsed:     %s (%.1f checks/s)\n", utils.FormatDuration(s.Elapsed), s.Throughput())
}

func printDistributedSummary(w io.Writer, s *distributed.DistributedSummary) {
	headerColor.Fprintln(w, "Distributed scan complete")
	printf(w, "  workers:     %d\n", s.Workers)
	printf(w, "  domains:     %d\n", s.Domains)
	printf(w, "  batches:     %d (completed %d, failed %d)\n", s.Batches, s.CompletedBatches, s.FailedBatches)
	printf(w, "  findings:    %d\n", s.Findings)
	if s.Matches > 0 {
		foundColor.Fprintf(w, "  matches:     %d\n", s.Matches)
	} else {
		okColor.Fprintf(w, "  matches:     %d\n", s.Matches)
	}
	if s.StoreErrors > 0 {
		warnColor.Fprintf(w, "  store errors: %d\n", s.StoreErrors)
	}
	printf(w, "  elapsed:     %s\n", utils.FormatDuration(s.Elapsed))
}

func printFindings(w io.Writer, findings []model.Finding) {
	if len(findings) == 0 {
		printf(w, "no findings\n")
		return
	}
	tw := newTable(w)
	printf(tw, "DOMAIN\tRULE\tPATH\tDETECTED\tSCANNED AT\n")
	for _, f := range findings {
		detected := "no"
		if f.Detected {
			detected = foundColor.Sprint("yes")
		}
		printf(tw, "%s\t%s\t%s\t%s\t%s\n", f.Domain, f.RuleName, f.MatchedPath, detected, f.ScannedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func printWorkers(w io.Writer, workers []distributed.ConnectedWorker) {
	if len(workers) == 0 {
		printf(w, "no workers connected\n")
		return
	}
	tw := newTable(w)
	printf(tw, "ID\tREMOTE\tACTIVE\tCOMPLETED\tFINDINGS\tMAX\tVERSION\tLAST SEEN\n")
	for _, cw := range workers {
		printf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s ago\n",
			cw.ID, cw.RemoteAddr,
			cw.Status.ActiveScans, cw.Status.CompletedScans, cw.Status.Findings,
			cw.Capabilities.MaxConcurrency, cw.Capabilities.Version,
			utils.FormatDuration(time.Since(cw.LastSeen).Round(time.Second)))
	}
	_ = tw.Flush()
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

// progressUpdater feeds engine progress into bar.
func progressUpdater(bar *progressbar.ProgressBar) func(model.Progress) {
	var max int64 = -1
	return func(p model.Progress) {
		if p.TasksTotal != max {
			max = p.TasksTotal
			bar.ChangeMax64(max)
		}
		_ = bar.Set64(p.TasksCompleted)
		bar.Describe(fmt.Sprintf("scanning (%d matches)", p.Matches))
	}
}
