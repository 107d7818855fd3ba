// Package shell provides the line-reading and history plumbing behind
// cmd/strata's interactive session: one command per line, no statement
// continuation, since Strata has no query language to parse the way a
// SQL shell would.
package shell

import (
	"bufio"
	"io"
	"strings"
)

// Shell reads command lines from input and keeps a bounded history of
// what was entered, for recall and for a future ".history" command.
type Shell struct {
	reader *bufio.Reader
	output io.Writer

	prompt string

	history      []string
	historyIndex int
	maxHistory   int
}

// New creates a shell reading from input and echoing its prompt to output.
func New(input io.Reader, output io.Writer) *Shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}
	return &Shell{
		reader:     reader,
		output:     output,
		prompt:     "strata> ",
		history:    make([]string, 0),
		maxHistory: 1000,
	}
}

// SetPrompt changes the prompt string.
func (s *Shell) SetPrompt(prompt string) { s.prompt = prompt }

// ReadCommand prints the prompt and reads one line, adding non-blank
// input to history. Returns the line and whether EOF was reached.
func (s *Shell) ReadCommand() (string, bool) {
	if s.output != nil {
		io.WriteString(s.output, s.prompt)
	}
	if s.reader == nil {
		return "", true
	}

	line, err := s.reader.ReadString('\n')
	eof := err != nil
	line = strings.TrimRight(line, " \t\r\n")

	if trimmed := strings.TrimSpace(line); trimmed != "" {
		s.addHistory(trimmed)
	}
	return line, eof
}

func (s *Shell) addHistory(cmd string) {
	if len(s.history) > 0 && s.history[len(s.history)-1] == cmd {
		return
	}
	s.history = append(s.history, cmd)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.historyIndex = len(s.history)
}

// History returns a copy of every command entered so far, oldest first.
func (s *Shell) History() []string {
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}
