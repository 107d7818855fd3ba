// Command strata is a small interactive session over an embedded
// database directory: one command per line, dispatched to whichever
// primitive (kv, json, event, state, run, vector) the verb names. There
// is no query language here; each primitive is driven through its own
// small, explicit vocabulary.
//
// Usage:
//
//	strata [database-dir]
//
// If no directory is given, a temporary one is created and removed on
// exit.
package main

import (
	"fmt"
	"os"

	"strata/internal/obslog"
	"strata/pkg/engine"
	"strata/pkg/shell"
	"strata/pkg/types"
)

func main() {
	dir := ""
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	cleanup := func() {}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "strata-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "strata: %v\n", err)
			os.Exit(1)
		}
		dir = tmp
		cleanup = func() { os.RemoveAll(tmp) }
	}
	defer cleanup()

	e, err := engine.Open(engine.Options{Dir: dir, Logger: obslog.Default()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "strata: failed to open %s: %v\n", dir, err)
		os.Exit(1)
	}
	defer e.Close()

	sess := newSession(e)
	sh := shell.New(os.Stdin, os.Stdout)

	fmt.Fprintln(os.Stdout, "strata interactive session")
	fmt.Fprintf(os.Stdout, "database: %s\n", dir)
	fmt.Fprintf(os.Stdout, "run: %s (type \".help\" for commands)\n", sess.ns.Run)

	for {
		line, eof := sh.ReadCommand()
		if line == "" && eof {
			fmt.Fprintln(os.Stdout)
			return
		}
		if line != "" {
			if done := sess.dispatch(line); done {
				return
			}
		}
		if eof {
			return
		}
	}
}

// session pins one namespace (tenant/app/agent fixed, run selectable via
// ".run" commands) for the duration of an interactive session, so every
// command operates against a consistent key space without the user
// typing four namespace fields on every line.
type session struct {
	e  *engine.Engine
	ns types.Namespace
}

func newSession(e *engine.Engine) *session {
	return &session{
		e:  e,
		ns: types.Namespace{Tenant: "local", App: "cli", Agent: "default", Run: types.NewRunID()},
	}
}
