package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openuucp/gouucp/pkg/codec"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0644)
}

const sample = `
[sys:venus]
port = modem0
grade = B
protocols = gtf
timetable = Wk1800-0600C;15
end_to_end = true
role = caller-only
sequence_check = true

[port:modem0]
device = /dev/ttyS0
kind = serial
speed = 38400
reliable = true

[dialer:hayes]
chat = ogin:-BREAK-ogin: uucp ssword: secret
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uucp.ini")
	if err := writeFile(path, sample); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesAllSectionKinds(t *testing.T) {
	path := writeSample(t)
	reg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	sys, ok := reg.Systems["venus"]
	if !ok {
		t.Fatal("system venus not parsed")
	}
	if sys.Grade != 'B' {
		t.Fatalf("Grade = %c, want B", sys.Grade)
	}
	if string(sys.Protocols) != "gtf" {
		t.Fatalf("Protocols = %q", sys.Protocols)
	}
	if sys.RoleRestriction != RoleCallerOnly {
		t.Fatalf("RoleRestriction = %v, want RoleCallerOnly", sys.RoleRestriction)
	}
	if !sys.SequenceCheck {
		t.Fatal("SequenceCheck should be true")
	}
	if sys.Timetable == nil {
		t.Fatal("expected a parsed timetable")
	}
	if !sys.ReliabilityFlags.EndToEnd {
		t.Fatal("expected end_to_end reliability flag")
	}
	if sys.ReliabilityFlags.Capabilities().ReliabilityClass != codec.ReliabilityEndToEnd {
		t.Fatal("Capabilities() should report ReliabilityEndToEnd")
	}

	port, ok := reg.Ports["modem0"]
	if !ok {
		t.Fatal("port modem0 not parsed")
	}
	if port.Speed != 38400 || port.Kind != "serial" {
		t.Fatalf("port = %+v", port)
	}
	if !port.ReliabilityFlags.Reliable {
		t.Fatal("expected reliable flag on port")
	}

	dialer, ok := reg.Dialers["hayes"]
	if !ok {
		t.Fatal("dialer hayes not parsed")
	}
	if len(dialer.Chat) == 0 {
		t.Fatal("expected a non-empty chat script")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Fatal("expected an error for a missing registry file")
	}
}
