package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/whatislife/savekeeper/pkg/backup"
	"github.com/whatislife/savekeeper/pkg/updates"
)

// Output writes command results in the configured format
type Output struct {
	format string
	w      io.Writer
}

func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(data)
		return
	}

	switch v := data.(type) {
	case *updates.Descriptor:
		if v.HasUpdate {
			fmt.Fprintf(o.w, "Update available: %s\n", v.LatestVersion)
		} else {
			fmt.Fprintf(o.w, "Up to date (latest %s)\n", v.LatestVersion)
		}
		if v.ChangelogURL != "" {
			fmt.Fprintf(o.w, "Changelog: %s\n", v.ChangelogURL)
		}
	case *updates.Payload:
		if v == nil {
			fmt.Fprintln(o.w, "no pending update")
			return
		}
		fmt.Fprintf(o.w, "Pending update %s at %s (backup %s)\n", v.Version, v.Path, v.BackupID)
	case *backup.Set:
		fmt.Fprintf(o.w, "Backup %s at %s\n", v, v.Path)
		for _, tree := range v.Trees {
			fmt.Fprintf(o.w, "  %s\n", tree)
		}
	case banStatus:
		if v.Banned {
			fmt.Fprintf(o.w, "banned: %s\n", v.Reason)
		} else {
			fmt.Fprintln(o.w, "not banned")
		}
	default:
		fmt.Fprintln(o.w, v)
	}
}

// Value outputs a single named result: {"<key>": v} as JSON, v as text.
func (o *Output) Value(key string, v any) {
	if o.format == "json" {
		o.Print(map[string]any{key: v})
		return
	}
	fmt.Fprintln(o.w, v)
}

type banStatus struct {
	Banned bool   `json:"banned"`
	Reason string `json:"reason"`
}
