package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type printer struct {
	format string
	w      io.Writer
}

// print renders v. In text mode a list is laid out as a table over cols
// and an object as sorted "key: value" lines.
func (p *printer) print(v any, cols ...string) error {
	v = normalize(v)
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	switch t := v.(type) {
	case nil:
		_, err := fmt.Fprintln(p.w, "ok")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(p.w, "(none)")
			return err
		}
		return p.table(t, cols)
	case map[string]any:
		lines := flatten("", t, nil)
		slices.Sort(lines)
		_, err := fmt.Fprintln(p.w, strings.Join(lines, "\n"))
		return err
	default:
		_, err := fmt.Fprintln(p.w, scalar(t))
		return err
	}
}

func (p *printer) table(rows []any, cols []string) error {
	if len(cols) == 0 {
		if first, ok := rows[0].(map[string]any); ok {
			cols = slices.Sorted(maps.Keys(first))
		}
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	if len(cols) > 0 {
		fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	}
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			fmt.Fprintln(tw, scalar(row))
			continue
		}
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = scalar(lookup(m, c))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// lookup resolves a dotted path such as "metadata.userCount".
func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

func flatten(prefix string, m map[string]any, out []string) []string {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			out = flatten(key, nested, out)
			continue
		}
		out = append(out, key+": "+scalar(v))
	}
	return out
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = scalar(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		buf, _ := json.Marshal(t)
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}

// normalize replaces json.Number with int64 or float64 so every encoder
// prints numbers as numbers.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}
		return t
	default:
		return v
	}
}
