package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/atlas-lang/atlas/profstore"
	"github.com/atlas-lang/atlas/vm"
)

// handleProfileCommand processes `atlas profile`.
// Usage:
//
//	atlas profile                 # list recent runs
//	atlas profile RUN_ID          # show one run
//	atlas profile -delete RUN_ID
//	atlas profile -totals         # call counts summed over all runs
func handleProfileCommand(args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	db := fs.String("db", "", "Profile database (default: manifest setting or "+defaultProfileDB+")")
	n := fs.Int("n", 20, "Number of runs or functions to list")
	del := fs.Bool("delete", false, "Delete the given run")
	totals := fs.Bool("totals", false, "Show call counts summed over all stored runs")
	fs.Parse(args)

	path := *db
	if path == "" {
		m, err := loadManifest()
		if err != nil {
			return err
		}
		path = defaultProfileDB
		if m != nil {
			path = m.ProfileDBPath()
		}
	}
	store, err := profstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	switch {
	case *totals:
		calls, err := store.FunctionTotals(ctx, *n)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FUNCTION\tCALLS")
		for _, c := range calls {
			fmt.Fprintf(w, "%s\t%d\n", c.Function, c.Count)
		}
		return w.Flush()

	case *del:
		if fs.NArg() != 1 {
			return fmt.Errorf("-delete takes one run ID")
		}
		if err := store.Delete(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", fs.Arg(0))
		return nil

	case fs.NArg() == 1:
		report, err := store.Load(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		printReport(os.Stdout, report)
		return nil
	}

	runs, err := store.Recent(ctx, *n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No stored runs.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROGRAM\tSTARTED\tDURATION\tINSTRUCTIONS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.RunID, r.Program,
			r.Started.Local().Format(time.DateTime), r.Duration, r.Instructions)
	}
	return w.Flush()
}

func printReport(out io.Writer, r *vm.ProfileReport) {
	fmt.Fprintf(out, "Run %s", r.RunID)
	if r.Program != "" {
		fmt.Fprintf(out, " (%s)", r.Program)
	}
	fmt.Fprintf(out, "\n  %d instructions in %s, max stack %d, max frames %d\n",
		r.Instructions, r.Duration, r.MaxStack, r.MaxFrames)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if len(r.Opcodes) > 0 {
		fmt.Fprintln(w, "\n  OPCODE\tCOUNT")
		for _, o := range r.Opcodes {
			fmt.Fprintf(w, "  %s\t%d\n", o.Opcode, o.Count)
		}
	}
	if len(r.HotOffsets) > 0 {
		fmt.Fprintln(w, "\n  OFFSET\tLINE\tCOUNT")
		for _, h := range r.HotOffsets {
			fmt.Fprintf(w, "  %04X\t%d:%d\t%d\n", h.Offset, h.Span.Line, h.Span.Column, h.Count)
		}
	}
	if len(r.Calls) > 0 {
		fmt.Fprintln(w, "\n  FUNCTION\tCALLS\t")
		for _, c := range r.Calls {
			hot := ""
			if c.Hot {
				hot = "hot"
			}
			fmt.Fprintf(w, "  %s\t%d\t%s\n", c.Function, c.Count, hot)
		}
	}
	w.Flush()
}
