package manager

import "io"

// command.Transfer.File is declared io.ReadWriteCloser so one field can
// hold either a send or a receive transfer's open file, but
// spool.Spool's OpenSend/OpenReceive only promise the narrower
// io.ReadCloser/io.WriteCloser. These two adapters plug the gap without
// widening the spool contract.

type readOnlyFile struct {
	io.ReadCloser
}

func (readOnlyFile) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

type writeOnlyFile struct {
	io.WriteCloser
}

func (writeOnlyFile) Read([]byte) (int, error) {
	return 0, io.EOF
}
