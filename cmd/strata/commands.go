package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"strata/pkg/run"
	"strata/pkg/types"
	"strata/pkg/vector"
)

// dispatch parses one line and runs it, printing results or errors to
// stdout/stderr. Returns true if the session should exit.
func (s *session) dispatch(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case ".exit", ".quit":
		return true
	case ".help":
		s.printHelp()
	case ".run":
		s.handleRun(args)
	case "put":
		s.handlePut(args)
	case "get":
		s.handleGet(args)
	case "del":
		s.handleDel(args)
	case "json":
		s.handleJSON(args)
	case "state":
		s.handleState(args)
	case "event":
		s.handleEvent(args)
	case "vector":
		s.handleVector(args)
	case "replay":
		s.handleReplay(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (try .help)\n", verb)
	}
	return false
}

func (s *session) printHelp() {
	fmt.Fprint(os.Stdout, `commands:
  put <key> <value>                 write a string to the kv store
  get <key>                         read a key from the kv store
  del <key>                         delete a key from the kv store
  json set <doc> <field> <value>    set a top-level field on a JSON document
  json get <doc> [path]             read a document, or a dotted field path
  state init <cell> <value>         initialize a state cell
  state cas <cell> <expected> <new> compare-and-swap a state cell
  event append <payload>            append an event to this run's log
  vector create <name> <dim>        create a brute-force vector collection
  vector insert <name> <f1,f2,...>  insert a vector, prints its id
  vector search <name> <f1,...> <k> search for k nearest neighbors
  replay                            print every live kv key for this run
  .run new                          start a fresh run for this session
  .run begin                        mark the current run active
  .run complete                     mark the current run completed
  .run status                       show this run's lifecycle status
  .exit                             leave the session
`)
}

func (s *session) handleRun(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: .run new|begin|complete|status")
		return
	}
	switch args[0] {
	case "new":
		s.ns.Run = types.NewRunID()
		fmt.Fprintf(os.Stdout, "run: %s\n", s.ns.Run)
	case "begin":
		meta, err := s.e.Runs().Begin(s.ns, time.Now().Unix(), 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		fmt.Fprintln(os.Stdout, meta.Status)
	case "complete":
		meta, err := s.e.Runs().Complete(s.ns, time.Now().Unix(), 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		fmt.Fprintln(os.Stdout, meta.Status)
	case "status":
		meta, ok := s.e.Runs().Get(s.ns)
		if !ok {
			fmt.Fprintln(os.Stdout, run.StatusNotFound)
			return
		}
		fmt.Fprintln(os.Stdout, meta.Status)
	default:
		fmt.Fprintln(os.Stderr, "usage: .run new|begin|complete|status")
	}
}

func (s *session) handlePut(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: put <key> <value>")
		return
	}
	_, err := s.e.KV().Put(s.ns, []byte(args[0]), types.String(strings.Join(args[1:], " ")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func (s *session) handleGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: get <key>")
		return
	}
	v, ok := s.e.KV().Get(s.ns, []byte(args[0]))
	if !ok {
		fmt.Fprintln(os.Stdout, "(not found)")
		return
	}
	fmt.Fprintln(os.Stdout, v.String())
}

func (s *session) handleDel(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: del <key>")
		return
	}
	if err := s.e.KV().Delete(s.ns, []byte(args[0])); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func (s *session) handleJSON(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: json set <doc> <field> <value> | json get <doc> [path]")
		return
	}
	doc := []byte(args[1])
	switch args[0] {
	case "set":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: json set <doc> <field> <value>")
			return
		}
		field, value := args[2], strings.Join(args[3:], " ")
		existing, _ := s.e.JSON().Get(s.ns, doc)
		obj, ok := existing.AsObject()
		if !ok {
			obj = map[string]types.Value{}
		}
		obj[field] = types.String(value)
		if _, err := s.e.JSON().Put(s.ns, doc, types.Object(obj)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "get":
		if len(args) == 2 {
			v, ok := s.e.JSON().Get(s.ns, doc)
			if !ok {
				fmt.Fprintln(os.Stdout, "(not found)")
				return
			}
			fmt.Fprintln(os.Stdout, v.String())
			return
		}
		v, ok := s.e.JSON().GetPath(s.ns, doc, args[2])
		if !ok {
			fmt.Fprintln(os.Stdout, "(not found)")
			return
		}
		fmt.Fprintln(os.Stdout, v.String())
	default:
		fmt.Fprintln(os.Stderr, "usage: json set <doc> <field> <value> | json get <doc> [path]")
	}
}

func (s *session) handleState(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: state init <cell> <value> | state cas <cell> <expected_version> <value>")
		return
	}
	cell := []byte(args[1])
	switch args[0] {
	case "init":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: state init <cell> <value>")
			return
		}
		v, err := s.e.State().Init(s.ns, cell, types.String(args[2]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stdout, "version: %d\n", v.Value)
	case "cas":
		if len(args) != 4 {
			fmt.Fprintln(os.Stderr, "usage: state cas <cell> <expected_version> <value>")
			return
		}
		expectedN, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid version: %v\n", err)
			return
		}
		expected := types.Version{Kind: types.VersionTxn, Value: expectedN}
		v, err := s.e.State().CompareAndSwap(s.ns, cell, expected, types.String(args[3]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "conflict: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stdout, "version: %d\n", v.Value)
	default:
		fmt.Fprintln(os.Stderr, "usage: state init <cell> <value> | state cas <cell> <expected_version> <value>")
	}
}

func (s *session) handleEvent(args []string) {
	if len(args) < 2 || args[0] != "append" {
		fmt.Fprintln(os.Stderr, "usage: event append <payload>")
		return
	}
	seq, hash, err := s.e.Events().Append(s.ns, types.String(strings.Join(args[1:], " ")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stdout, "sequence: %d hash: %x\n", seq, hash)
}

func (s *session) handleVector(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: vector create|insert|search <name> ...")
		return
	}
	name := args[1]
	switch args[0] {
	case "create":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: vector create <name> <dimension>")
			return
		}
		dim, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid dimension: %v\n", err)
			return
		}
		cfg := vector.DefaultCollectionConfig(dim, types.DistanceMetricCosine)
		if err := s.e.Vectors().CreateCollection(s.ns, name, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case "insert":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: vector insert <name> <f1,f2,...>")
			return
		}
		data, err := parseFloats(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid vector: %v\n", err)
			return
		}
		id, err := s.e.Vectors().Insert(s.ns, name, types.NewVector(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stdout, "id: %d\n", id)
	case "search":
		if len(args) != 4 {
			fmt.Fprintln(os.Stderr, "usage: vector search <name> <f1,f2,...> <k>")
			return
		}
		data, err := parseFloats(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid vector: %v\n", err)
			return
		}
		k, err := strconv.Atoi(args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid k: %v\n", err)
			return
		}
		results, err := s.e.Vectors().Search(s.ns, name, types.NewVector(data), k)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		for _, r := range results {
			fmt.Fprintf(os.Stdout, "id=%d distance=%f\n", r.ID, r.Distance)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: vector create|insert|search <name> ...")
	}
}

func (s *session) handleReplay(args []string) {
	view, err := s.e.ReplayRun(s.ns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	for _, k := range view.Keys() {
		if k.Tag != types.TagKV {
			continue
		}
		v, _ := view.Get(k)
		fmt.Fprintf(os.Stdout, "%s = %s\n", k.UserBytes, v.String())
	}
}

func parseFloats(csv string) ([]float32, error) {
	parts := strings.Split(csv, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}
