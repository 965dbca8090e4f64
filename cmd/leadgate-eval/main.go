// leadgate-eval replays a labelled lead file through the agent loop and
// reports accuracy. It exits non-zero when any case fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/leadgate/leadgate/internal/eval"
)

const defaultFile = "cmd/leadgate-eval/testdata/sample-leads.json"

func main() {
	exitFn(run(os.Args[1:], os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("leadgate-eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", defaultFile, "JSON file of labelled leads")
	caseID := fs.Int("case", 0, "run only the case with this id")
	verbose := fs.Bool("v", false, "print details for every case")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// The agent logs every phase; keep the report readable.
	zerolog.SetGlobalLevel(zerolog.Disabled)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	cases, err := eval.LoadCases(f)
	f.Close()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	runner, err := eval.NewRunner()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer runner.Close()

	fmt.Fprintf(stdout, "Running evaluation suite from %s\n\n", *file)
	sum := runner.Run(context.Background(), cases, *caseID)
	if sum.Total == 0 {
		fmt.Fprintf(stderr, "no cases matched (case=%d)\n", *caseID)
		return 2
	}

	for _, r := range sum.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(stdout, "%s case %d: %s\n", status, r.CaseID, r.Category)
		if *verbose || !r.Passed {
			fmt.Fprintf(stdout, "    tier: expected %s, got %s (score %d)\n", r.ExpectedTier, r.ActualTier, r.Score)
			fmt.Fprintf(stdout, "    approval: expected %t, got %t\n", r.ExpectedApproval, r.ActualApproval)
			if r.ScoreInRange != nil && !*r.ScoreInRange {
				fmt.Fprintln(stdout, "    score out of expected range")
			}
			if r.Error != "" {
				fmt.Fprintf(stdout, "    error: %s\n", r.Error)
			}
		}
	}

	line := strings.Repeat("=", 50)
	fmt.Fprintf(stdout, "\n%s\nEvaluation Results: %d/%d passed (%.1f%%)\n%s\n", line, sum.Passed, sum.Total, sum.Accuracy(), line)

	if sum.Passed != sum.Total {
		return 1
	}
	return 0
}
