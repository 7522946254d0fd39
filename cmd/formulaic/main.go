// Command formulaic is a small REPL over the formulacore engine: set cells,
// read values and formulas, insert/delete rows, undo, export to .xlsx.
//
//	$ formulaic
//	> set Sheet1!A1 10
//	> set Sheet1!A2 =A1*2
//	> get Sheet1!A2
//	20
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/driftline/formulacore"
)

func main() {
	circular := flag.Bool("circular", false, "tolerate circular references")
	load := flag.String("load", "", "load an .xlsx workbook on startup")
	flag.Parse()

	cfg := formulacore.DefaultConfig()
	cfg.AllowCircularReferences = *circular

	var (
		engine *formulacore.Engine
		err    error
	)
	if *load != "" {
		engine, err = formulacore.ImportXLSX(*load, &cfg)
	} else {
		engine, err = formulacore.BuildFromSheets(map[string]formulacore.Sheet{"Sheet1": nil}, &cfg)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup:", err)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return
		}
		if line != "" {
			if err := run(engine, line); err != nil {
				fmt.Println("error:", err)
			}
		}
		fmt.Print("> ")
	}
}

func run(e *formulacore.Engine, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: set Sheet!A1 <content>")
		}
		sheet, ref, err := splitRef(args[0])
		if err != nil {
			return err
		}
		return e.SetCellContents(sheet, ref, strings.Join(args[1:], " "))
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get Sheet!A1")
		}
		sheet, ref, err := splitRef(args[0])
		if err != nil {
			return err
		}
		v, err := e.GetCellValue(sheet, ref)
		if err != nil {
			return err
		}
		fmt.Println(v.String())
		return nil
	case "formula":
		if len(args) != 1 {
			return fmt.Errorf("usage: formula Sheet!A1")
		}
		sheet, ref, err := splitRef(args[0])
		if err != nil {
			return err
		}
		text, ok, err := e.GetCellFormula(sheet, ref)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(not a formula)")
			return nil
		}
		fmt.Println(text)
		return nil
	case "addrows", "removerows", "addcols", "removecols":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s <sheet> <at> <count>", cmd)
		}
		at, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		count, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		switch cmd {
		case "addrows":
			return e.AddRows(args[0], uint32(at), uint32(count))
		case "removerows":
			return e.RemoveRows(args[0], uint32(at), uint32(count))
		case "addcols":
			return e.AddColumns(args[0], uint32(at), uint32(count))
		default:
			return e.RemoveColumns(args[0], uint32(at), uint32(count))
		}
	case "sheet":
		if len(args) != 1 {
			return fmt.Errorf("usage: sheet <name>")
		}
		return e.AddSheet(args[0])
	case "sheets":
		for _, name := range e.Sheets() {
			fmt.Println(name)
		}
		return nil
	case "undo":
		return e.Undo()
	case "redo":
		return e.Redo()
	case "export":
		if len(args) != 1 {
			return fmt.Errorf("usage: export <path.xlsx>")
		}
		return e.ExportXLSX(args[0])
	case "stats":
		snap := e.Stats()
		fmt.Printf("passes=%d cells=%d vertices=%d\n",
			snap.EvaluationPasses, snap.CellsEvaluated, snap.VertexCount)
		for op, n := range snap.Operations {
			fmt.Printf("  %s: %d\n", op, n)
		}
		return nil
	case "help":
		fmt.Println("commands: set get formula addrows removerows addcols removecols sheet sheets undo redo export stats quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q (try: help)", cmd)
	}
}

func splitRef(full string) (sheet, ref string, err error) {
	i := strings.LastIndexByte(full, '!')
	if i <= 0 || i == len(full)-1 {
		return "", "", fmt.Errorf("expected Sheet!A1, got %q", full)
	}
	return full[:i], full[i+1:], nil
}
