package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned by Parse when a command line does not match the
// grammar of spec §6.
var ErrMalformed = errors.New("command: malformed line")

// Parse implements parse_cmd (spec §6): decode one null-terminated command
// line (the trailing NUL already stripped by the caller) into a Command.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	switch fields[0] {
	case "H":
		return Command{Type: Hangup}, nil
	case "HY":
		return Command{Type: Hangup, Notify: "Y"}, nil
	case "HN":
		return Command{Type: Hangup, Notify: "N"}, nil
	case "Y":
		return Command{Type: HangupConfirm}, nil
	case "N":
		return Command{Type: HangupDeny}, nil
	}

	letter := fields[0]
	if len(letter) != 1 {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrMalformed, letter)
	}

	switch Type(letter[0]) {
	case Send:
		return parseSend(fields, false)
	case Execute:
		return parseSend(fields, true)
	case Receive:
		return parseReceive(fields)
	case Wildcard:
		return parseWildcard(fields)
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrMalformed, letter)
	}
}

func parseOptions(tok string) (Options, error) {
	if len(tok) == 0 || tok[0] != '-' {
		return "", fmt.Errorf("%w: options field %q missing leading -", ErrMalformed, tok)
	}
	return Options(tok[1:]), nil
}

func parseMode(tok string) (uint32, error) {
	if len(tok) == 0 || tok[0] != '0' {
		return 0, fmt.Errorf("%w: mode field %q missing leading 0", ErrMalformed, tok)
	}
	v, err := strconv.ParseUint(tok, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad mode %q: %v", ErrMalformed, tok, err)
	}
	return uint32(v), nil
}

func parseNotify(tok string) string {
	if tok == `""` {
		return ""
	}
	return tok
}

func formatNotify(notify string) string {
	if notify == "" {
		return `""`
	}
	return notify
}

// minFields for S/E is From To User Options Temp Mode Notify = 7.
func parseSend(fields []string, execute bool) (Command, error) {
	if len(fields) < 8 {
		return Command{}, fmt.Errorf("%w: too few fields for %s", ErrMalformed, fields[0])
	}
	opts, err := parseOptions(fields[4])
	if err != nil {
		return Command{}, err
	}
	mode, err := parseMode(fields[6])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{
		Type:    Type(fields[0][0]),
		From:    fields[1],
		To:      fields[2],
		User:    fields[3],
		Options: opts,
		Temp:    fields[5],
		Mode:    mode,
		Notify:  parseNotify(fields[7]),
		Bytes:   NoSize,
	}
	rest := fields[8:]
	if execute {
		if len(rest) < 1 {
			return Command{}, fmt.Errorf("%w: E command missing size", ErrMalformed)
		}
		size, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: bad size %q: %v", ErrMalformed, rest[0], err)
		}
		cmd.Bytes = size
		cmd.Exec = strings.Join(rest[1:], " ")
	} else if len(rest) >= 1 {
		size, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: bad size %q: %v", ErrMalformed, rest[0], err)
		}
		cmd.Bytes = size
	}
	return cmd, nil
}

func parseReceive(fields []string) (Command, error) {
	if len(fields) < 5 {
		return Command{}, fmt.Errorf("%w: too few fields for R", ErrMalformed)
	}
	opts, err := parseOptions(fields[4])
	if err != nil {
		return Command{}, err
	}
	cmd := Command{
		Type:    Receive,
		From:    fields[1],
		To:      fields[2],
		User:    fields[3],
		Options: opts,
		Bytes:   NoSize,
	}
	if len(fields) > 5 {
		size, err := strconv.ParseInt(fields[5], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: bad max-size %q: %v", ErrMalformed, fields[5], err)
		}
		cmd.Bytes = size
	}
	return cmd, nil
}

func parseWildcard(fields []string) (Command, error) {
	if len(fields) < 5 {
		return Command{}, fmt.Errorf("%w: too few fields for X", ErrMalformed)
	}
	opts, err := parseOptions(fields[4])
	if err != nil {
		return Command{}, err
	}
	return Command{
		Type:    Wildcard,
		From:    fields[1],
		To:      fields[2],
		User:    fields[3],
		Options: opts,
		Bytes:   NoSize,
	}, nil
}

// Format implements format_cmd, the inverse of Parse, producing the
// null-terminated-minus-NUL wire text of a Command. Round-tripping holds
// for any Command whose fields contain no whitespace (spec law L3); Exec
// lines commonly do contain whitespace and are joined verbatim.
func Format(cmd Command) (string, error) {
	var b strings.Builder
	switch cmd.Type {
	case Hangup:
		switch cmd.Notify {
		case "Y":
			return "HY", nil
		case "N":
			return "HN", nil
		default:
			return "H", nil
		}
	case HangupConfirm:
		return "Y", nil
	case HangupDeny:
		return "N", nil
	}

	fmt.Fprintf(&b, "%c %s %s %s -%s", cmd.Type, cmd.From, cmd.To, cmd.User, cmd.Options)

	switch cmd.Type {
	case Send, Execute:
		fmt.Fprintf(&b, " %s 0%o %s", cmd.Temp, cmd.Mode, formatNotify(cmd.Notify))
		if cmd.Type == Execute {
			if cmd.Bytes == NoSize {
				return "", fmt.Errorf("%w: E command requires a size", ErrMalformed)
			}
			fmt.Fprintf(&b, " %d", cmd.Bytes)
			if cmd.Exec != "" {
				fmt.Fprintf(&b, " %s", cmd.Exec)
			}
		} else if cmd.Bytes != NoSize {
			fmt.Fprintf(&b, " %d", cmd.Bytes)
		}
	case Receive:
		if cmd.Bytes != NoSize {
			fmt.Fprintf(&b, " %d", cmd.Bytes)
		}
	case Wildcard:
		// no further fields
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrMalformed, cmd.Type)
	}
	return b.String(), nil
}
