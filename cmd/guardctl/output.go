package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/org/clipguard/internal/policy"
)

var (
	outputFormat string // "table", "json", "raw"
	outputField  string // for --field=key
)

// printResult outputs data in the chosen format.
func printResult(data map[string]any) {
	switch outputFormat {
	case "json":
		printJSON(os.Stdout, data)
	case "raw":
		if outputField != "" {
			if v, ok := data[outputField]; ok {
				fmt.Println(v)
			}
			return
		}
		for _, k := range sortedKeys(data) {
			fmt.Printf("%s=%v\n", k, data[k])
		}
	default: // table
		printTable(os.Stdout, data)
	}
}

// printEvents renders a list of audit events, one row per event.
func printEvents(events []any) {
	if outputFormat == "json" {
		printJSON(os.Stdout, events)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tPRINCIPAL\tOPERATION\tRESOURCE\tSUCCESS\tVIOLATION")
	for _, raw := range events {
		e, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		resource := str(e["resourceType"])
		if id := str(e["resourceId"]); id != "" {
			resource += "/" + id
		}
		violation := str(e["violation"])
		if sv, ok := e["sealValid"].(bool); ok && !sv {
			violation += " [SEAL INVALID]"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
			str(e["timestamp"]), orDash(str(e["principalId"])), str(e["operation"]),
			orDash(resource), e["success"], orDash(violation))
	}
	w.Flush()
}

// printMatrix renders permission matrix rows.
func printMatrix(out io.Writer, rows []policy.Row) {
	if outputFormat == "json" {
		printJSON(out, rows)
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tRESOURCE\tOPERATION\tLEVEL\tALLOWED\tREQUIRED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n", r.Role, r.ResourceType, r.Operation, r.Level, r.Allowed, r.Required)
	}
	w.Flush()
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func printTable(out io.Writer, data map[string]any) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range sortedKeys(data) {
		switch val := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s\t\n", strings.ToUpper(k))
			for _, kk := range sortedKeys(val) {
				fmt.Fprintf(w, "  %s\t%v\n", kk, val[kk])
			}
		case []any:
			fmt.Fprintf(w, "%s\t%s\n", k, joinAny(val))
		default:
			fmt.Fprintf(w, "%s\t%v\n", k, val)
		}
	}
	w.Flush()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinAny(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ", ")
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func printSuccess(msg string) {
	fmt.Println(msg)
}
