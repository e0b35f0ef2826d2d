package manager

import (
	"io"

	"github.com/gocarina/gocsv"

	"github.com/openuucp/gouucp/pkg/command"
)

// TransferStat is one row of the session's transfer log, exported via
// gocsv the way m-lab-tcp-info's csvtool marshals snapshot structs: a
// plain tagged struct fed straight to gocsv.Marshal.
type TransferStat struct {
	Pseq    string  `csv:"pseq"`
	Type    string  `csv:"type"`
	From    string  `csv:"from"`
	To      string  `csv:"to"`
	Bytes   int64   `csv:"bytes"`
	Seconds float64 `csv:"seconds"`
	Outcome string  `csv:"outcome"`
}

func statFor(xfer *command.Transfer, outcome string) TransferStat {
	elapsed := xfer.Stats.WallClock.Seconds()
	return TransferStat{
		Pseq:    xfer.Cmd.Pseq.String(),
		Type:    string(xfer.Cmd.Type),
		From:    xfer.Cmd.From,
		To:      xfer.Cmd.To,
		Bytes:   xfer.Stats.Bytes,
		Seconds: elapsed,
		Outcome: outcome,
	}
}

// WriteCSV dumps this session's accumulated transfer stats to w.
func (m *Manager) WriteCSV(w io.Writer) error {
	rows := m.TransferStats()
	return gocsv.Marshal(rows, w)
}
