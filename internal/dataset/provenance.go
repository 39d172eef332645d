package dataset

import (
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// ProvenanceTable holds one row per write session.
const ProvenanceTable = "provenance"

var provenanceColumns = []container.Column{
	{Name: "user", Kind: ir.KindText},
	{Name: "timestamp", Kind: ir.KindText},
	{Name: "workdir", Kind: ir.KindText},
	{Name: "cmdline", Kind: ir.KindText},
	{Name: "executable", Kind: ir.KindText},
}

// Provenance records who wrote a store, when, and how.
type Provenance struct {
	User       string `json:"user"`
	Timestamp  string `json:"timestamp"`
	Workdir    string `json:"workdir"`
	Cmdline    string `json:"cmdline"`
	Executable string `json:"executable"`
}

// Clock supplies the provenance timestamp.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// CurrentProcess describes the running process. Fields that cannot be
// determined are left empty.
func CurrentProcess() Provenance {
	var p Provenance
	if u, err := user.Current(); err == nil {
		p.User = u.Username
	}
	if wd, err := os.Getwd(); err == nil {
		p.Workdir = wd
	}
	if exe, err := os.Executable(); err == nil {
		p.Executable = exe
	}
	p.Cmdline = strings.Join(os.Args, " ")
	return p
}

func (p Provenance) row() ir.Object {
	return ir.Object{
		"user":       ir.Text(p.User),
		"timestamp":  ir.Text(p.Timestamp),
		"workdir":    ir.Text(p.Workdir),
		"cmdline":    ir.Text(p.Cmdline),
		"executable": ir.Text(p.Executable),
	}
}

func provenanceFrom(row ir.Object) Provenance {
	text := func(k string) string {
		if s, ok := row[k].(ir.Text); ok {
			return string(s)
		}
		return ""
	}
	return Provenance{
		User:       text("user"),
		Timestamp:  text("timestamp"),
		Workdir:    text("workdir"),
		Cmdline:    text("cmdline"),
		Executable: text("executable"),
	}
}
