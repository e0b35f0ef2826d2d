// Package config parses the system/port/dialer registry spec §6 treats as
// "opaque to the core": grade timetables, per-peer protocol parameters,
// and the reliability flags that feed protocol election (spec §4.6) and
// the 'g' vs 't' choice.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/grade"
)

// ReliabilityFlags mirrors the port/dialer bits spec §6 lists: "specified,
// eight-bit, reliable, end-to-end, full-duplex".
type ReliabilityFlags struct {
	Specified  bool
	EightBit   bool
	Reliable   bool
	EndToEnd   bool
	FullDuplex bool
}

// Capabilities derives codec.Capabilities from these flags, for protocol
// election (spec §4.6) to compare against what each candidate codec
// actually offers.
func (f ReliabilityFlags) Capabilities() codec.Capabilities {
	class := codec.ReliabilityNone
	switch {
	case f.EndToEnd:
		class = codec.ReliabilityEndToEnd
	case f.EightBit:
		class = codec.ReliabilityEightBitClean
	case f.Reliable:
		class = codec.ReliabilityLink
	}
	return codec.Capabilities{FullDuplex: f.FullDuplex, ReliabilityClass: class}
}

// System is one remote-system registry entry.
type System struct {
	Name             string
	Grade            byte // default grade for locally queued work to this system
	Timetable        *grade.Timetable
	Protocols        []byte // acceptable protocol letters, highest preference first
	ReliabilityFlags ReliabilityFlags
	Port             string // references a Port.Name
	RoleRestriction  RoleRestriction
	SequenceCheck    bool // "-Q" supplemented feature: enforce a replay counter
}

// RoleRestriction implements the supplemented "-R" option (SPEC_FULL.md
// §10): some systems may only ever call out, or only ever be called.
type RoleRestriction int

const (
	RoleEither RoleRestriction = iota
	RoleCallerOnly
	RoleCalleeOnly
)

// Port is one local communications port.
type Port struct {
	Name             string
	Device           string
	Kind             string // "tcp", "serial", "pipe"
	Speed            int
	ReliabilityFlags ReliabilityFlags
}

// Dialer is a chat-script dialer definition; the chat-script execution
// itself is out of scope (spec §1 Non-goals) but its configured lines are
// still part of the registry.
type Dialer struct {
	Name string
	Chat []string
}

// Registry is the parsed systems/ports/dialers file.
type Registry struct {
	Systems map[string]System
	Ports   map[string]Port
	Dialers map[string]Dialer
}

// Load parses path as an INI file with one section per system ("sys:NAME"),
// port ("port:NAME"), and dialer ("dialer:NAME"), matching the teacher's
// section-prefix convention for grouping heterogeneous object types in one
// file (od_parser.go keys sections by hex index; this keys them by a
// typed-name prefix instead, since UUCP's registry has three unrelated
// object kinds sharing one file rather than one kind of object).
func Load(path string) (*Registry, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Registry, error) {
	reg := &Registry{
		Systems: make(map[string]System),
		Ports:   make(map[string]Port),
		Dialers: make(map[string]Dialer),
	}
	for _, sec := range f.Sections() {
		name := sec.Name()
		switch {
		case strings.HasPrefix(name, "sys:"):
			sys, err := parseSystem(sec)
			if err != nil {
				return nil, err
			}
			reg.Systems[sys.Name] = sys
		case strings.HasPrefix(name, "port:"):
			reg.Ports[strings.TrimPrefix(name, "port:")] = parsePort(sec)
		case strings.HasPrefix(name, "dialer:"):
			reg.Dialers[strings.TrimPrefix(name, "dialer:")] = parseDialer(sec)
		}
	}
	return reg, nil
}

func parseSystem(sec *ini.Section) (System, error) {
	name := strings.TrimPrefix(sec.Name(), "sys:")
	sys := System{Name: name, Port: sec.Key("port").String()}

	g := sec.Key("grade").String()
	if g == "" {
		sys.Grade = grade.Highest
	} else {
		sys.Grade = g[0]
	}

	if tt := sec.Key("timetable").String(); tt != "" {
		parsed, err := grade.Parse(tt)
		if err != nil {
			return System{}, fmt.Errorf("config: system %s: %w", name, err)
		}
		sys.Timetable = parsed
	}

	if protos := sec.Key("protocols").String(); protos != "" {
		sys.Protocols = []byte(protos)
	}

	sys.ReliabilityFlags = parseReliability(sec)

	switch sec.Key("role").String() {
	case "caller-only":
		sys.RoleRestriction = RoleCallerOnly
	case "callee-only":
		sys.RoleRestriction = RoleCalleeOnly
	}

	sys.SequenceCheck = sec.Key("sequence_check").MustBool(false)

	return sys, nil
}

func parsePort(sec *ini.Section) Port {
	name := strings.TrimPrefix(sec.Name(), "port:")
	speed, _ := strconv.Atoi(sec.Key("speed").String())
	return Port{
		Name:             name,
		Device:           sec.Key("device").String(),
		Kind:             sec.Key("kind").String(),
		Speed:            speed,
		ReliabilityFlags: parseReliability(sec),
	}
}

func parseDialer(sec *ini.Section) Dialer {
	name := strings.TrimPrefix(sec.Name(), "dialer:")
	var chat []string
	if raw := sec.Key("chat").String(); raw != "" {
		chat = strings.Fields(raw)
	}
	return Dialer{Name: name, Chat: chat}
}

func parseReliability(sec *ini.Section) ReliabilityFlags {
	return ReliabilityFlags{
		Specified:  sec.HasKey("reliability"),
		EightBit:   sec.Key("eight_bit").MustBool(false),
		Reliable:   sec.Key("reliable").MustBool(false),
		EndToEnd:   sec.Key("end_to_end").MustBool(false),
		FullDuplex: sec.Key("full_duplex").MustBool(false),
	}
}
