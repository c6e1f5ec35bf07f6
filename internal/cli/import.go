package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Add queries in bulk from a CSV file",
	Long: `Add queries in bulk. The file has the columns
description,type,assigned_to; type and assigned_to may be empty. A header
row starting with "description" is skipped. Use - to read stdin.

Examples:
  qsync import backlog.csv
  qsync import --jobs 8 --stop-on-error backlog.csv`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

var (
	importJobs        int
	importStopOnError bool
)

func init() {
	importCmd.Flags().IntVarP(&importJobs, "jobs", "j", 4, "Number of adds in flight")
	importCmd.Flags().BoolVar(&importStopOnError, "stop-on-error", false, "Stop at the first failed add")
}

func runImport(cmd *cobra.Command, args []string) {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			exitError("%v", err)
		}
		defer f.Close()
		r = f
	}

	inputs, err := readImport(r)
	if err != nil {
		exitError("failed to read %s: %v", args[0], err)
	}
	if len(inputs) == 0 {
		fmt.Println("Nothing to import")
		return
	}

	c := initLoadedContext(context.Background())
	defer c.Close()

	res, err := importQueries(context.Background(), c.Store, inputs, importJobs, importStopOnError)

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	green.Printf("Imported %d of %d queries\n", len(res.IDs), len(inputs))
	for _, f := range res.Failed {
		red.Printf("  line %d: %s\n", f.Line, describeError(f.Err))
	}
	if err != nil {
		exitOperation(err)
	}
	if len(res.Failed) > 0 {
		os.Exit(1)
	}
}

// importRow is one parsed line of an import file.
type importRow struct {
	Line  int
	Input lifecycle.NewQueryInput
}

func readImport(r io.Reader) ([]importRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []importRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "description") {
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) > 3 {
			return nil, fmt.Errorf("line %d: expected at most 3 columns, got %d", line, len(rec))
		}
		in := lifecycle.NewQueryInput{Description: strings.TrimSpace(rec[0])}
		if len(rec) > 1 {
			in.Type = models.QueryType(strings.TrimSpace(rec[1]))
		}
		if len(rec) > 2 {
			in.AssignedTo = strings.TrimSpace(rec[2])
		}
		rows = append(rows, importRow{Line: line, Input: in})
	}
}

// queryAdder is the part of the store import needs.
type queryAdder interface {
	Add(ctx context.Context, in lifecycle.NewQueryInput) (string, error)
}

type importFailure struct {
	Line int
	Err  error
}

type importResult struct {
	IDs    []string
	Failed []importFailure
}

// importQueries adds rows with at most jobs adds in flight. With stopOnError
// the first failure cancels the adds not yet started and is returned.
func importQueries(ctx context.Context, st queryAdder, rows []importRow, jobs int, stopOnError bool) (importResult, error) {
	if jobs < 1 {
		jobs = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	var (
		mu  sync.Mutex
		res importResult
	)
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			id, err := st.Add(ctx, row.Input)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, importFailure{Line: row.Line, Err: err})
				if stopOnError {
					return fmt.Errorf("line %d: %w", row.Line, err)
				}
				return nil
			}
			res.IDs = append(res.IDs, id)
			return nil
		})
	}

	err := g.Wait()
	return res, err
}
