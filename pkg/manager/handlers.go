package manager

import (
	"context"
	"fmt"

	"github.com/openuucp/gouucp/pkg/command"
	"github.com/openuucp/gouucp/pkg/metrics"
)

// AcceptSend handles a peer-initiated S or E command: open a receive
// slot, hand it to the multiplexer as the active sink, and ack.
func (m *Manager) AcceptSend(cmd command.Command) error {
	wc, temp, err := m.sp.OpenReceive(&cmd)
	if err != nil {
		return m.proto.SendCmd(context.Background(), fmt.Sprintf("SN%d", command.ReplyCannotCreate))
	}

	xfer := m.pool.Acquire(&cmd)
	xfer.File = writeOnlyFile{wc}
	xfer.Step = command.StepRecvFile

	m.mu.Lock()
	m.temp[xfer] = temp
	m.mu.Unlock()

	m.queues.ReceiveReady.PushBack(xfer)
	m.mx.SetActiveReceive(xfer)

	return m.proto.SendCmd(context.Background(), fmt.Sprintf("SY 0%o", cmd.Mode))
}

// AcceptReceive handles a peer-initiated R command: the peer wants to
// pull a file from us.
func (m *Manager) AcceptReceive(cmd command.Command) error {
	rc, err := m.sp.OpenSend(&cmd)
	if err != nil {
		return m.proto.SendCmd(context.Background(), fmt.Sprintf("RN%d", command.ReplyCannotCreate))
	}

	xfer := m.pool.Acquire(&cmd)
	xfer.File = readOnlyFile{rc}
	xfer.Step = command.StepSendFile

	m.queues.RemoteReady.PushBack(xfer)

	return m.proto.SendCmd(context.Background(), fmt.Sprintf("RY 0%o", cmd.Mode))
}

// AcceptWildcard always answers positively with zero expansions: Memory
// has no directory to glob against, so wildcard requests degrade to "no
// matching files" rather than failing the session.
func (m *Manager) AcceptWildcard(cmd command.Command) (int, error) {
	if err := m.proto.SendCmd(context.Background(), "XY"); err != nil {
		return 0, err
	}
	return 0, nil
}

// HangupRequested answers a bare H from the peer: if we still have work
// at the current grade ceiling, we claim master and refuse (HN);
// otherwise we agree (HY) and wait for the peer's own HY to close out
// the exchange.
func (m *Manager) HangupRequested() error {
	has, err := m.sp.HasWorkAtGrade(m.ceiling)
	if err != nil {
		return fmt.Errorf("manager: checking work before hangup reply: %w", err)
	}
	if has {
		m.isMaster = true
		return m.proto.SendCmd(context.Background(), "HN")
	}
	m.hangup = hangupAwaitingMasterHY
	return m.proto.SendCmd(context.Background(), "HY")
}

// HangupReply answers the peer's response to an H we sent as master.
func (m *Manager) HangupReply(ok bool) error {
	if !ok {
		// Peer refused (HN): they have work, so they become master.
		m.isMaster = false
		m.hangup = hangupNone
		return nil
	}
	// Peer agreed (HY): close out the exchange with our own HY and shut
	// the protocol down (spec §4.6's asymmetric HY/HY/HY to avoid a
	// simultaneous-hangup race).
	if err := m.proto.SendCmd(context.Background(), "HY"); err != nil {
		return err
	}
	m.hangup = hangupDone
	metrics.SessionsTotal.WithLabelValues("COMPLETE").Inc()
	return nil
}

// HangupFinal is a generalization beyond the literal HY/HY/HY exchange:
// some peers close out hangup with a bare Y/N at the command-dialogue
// layer rather than repeating HY. Treated as equivalent to HangupReply's
// terminal branch.
func (m *Manager) HangupFinal(ok bool) error {
	if ok {
		m.hangup = hangupDone
		metrics.SessionsTotal.WithLabelValues("COMPLETE").Inc()
		return nil
	}
	m.hangup = hangupNone
	return nil
}

// TransferReply handles SY/SN/RY/RN/XY/XN/CY/CN replies to commands this
// manager sent. The SN/RN code mapping follows the propagation order a
// send/receive failure takes once it reaches the requestor: Permission
// and TooLargeEver are permanent (mail the requestor, drop the job);
// CannotCreate and TooLargeNow are transient (leave the job queued for
// the next session); AlreadyReceived is a silent success.
func (m *Manager) TransferReply(reply command.Reply) error {
	if reply.To == 0 {
		return m.finishSentFile(reply.Positive)
	}

	m.mu.Lock()
	var xfer *command.Transfer
	for pseq, t := range m.byPseq {
		if t.Cmd.Type == reply.To {
			xfer = t
			delete(m.byPseq, pseq)
			break
		}
	}
	m.mu.Unlock()

	if xfer == nil {
		return fmt.Errorf("manager: reply %v for unknown in-flight command", reply)
	}

	if reply.Positive {
		xfer.Step = command.StepSendFile
		m.queues.SendReady.PushBack(xfer)
		return nil
	}

	switch reply.Code {
	case command.ReplyPermission, command.ReplyTooLargeEver:
		if err := m.sp.NotifyExecuteResult(xfer.Cmd, false, []byte(fmt.Sprintf("refused: code %d", reply.Code))); err != nil {
			return err
		}
		return m.sp.DidWork(xfer.Cmd.Pseq)
	case command.ReplyCannotCreate, command.ReplyTooLargeNow:
		// Leave the job in the spool; it will be picked up again by a
		// later NextWork scan.
		metrics.FilesTransferred.WithLabelValues("send", string(m.proto.Letter()), "deferred").Inc()
		return nil
	case command.ReplyAlreadyReceived:
		return m.sp.DidWork(xfer.Cmd.Pseq)
	default:
		metrics.FilesTransferred.WithLabelValues("send", string(m.proto.Letter()), "rejected").Inc()
		return m.sp.DidWork(xfer.Cmd.Pseq)
	}
}

// finishSentFile closes out the send_ready head once the peer's bare
// CY/CN acks the file data we just streamed.
func (m *Manager) finishSentFile(ok bool) error {
	xfer := m.queues.SendReady.Front()
	if xfer == nil || xfer.Step != command.StepWaitAck {
		return nil
	}
	m.queues.SendReady.Remove(xfer)

	outcome := "complete"
	if !ok {
		outcome = "failed"
	} else if err := m.sp.DidWork(xfer.Cmd.Pseq); err != nil {
		return err
	}

	metrics.FilesTransferred.WithLabelValues("send", string(m.proto.Letter()), outcome).Inc()
	m.mu.Lock()
	m.stats = append(m.stats, statFor(xfer, outcome))
	m.mu.Unlock()

	m.pool.Release(xfer)
	return nil
}

// ReceiveComplete closes out an inbound transfer once the multiplexer
// sees the terminating zero-length payload: move the temp file to its
// final name, record stats, and reply CY/CN.
func (m *Manager) ReceiveComplete(xfer *command.Transfer) error {
	m.mu.Lock()
	temp := m.temp[xfer]
	delete(m.temp, xfer)
	m.mu.Unlock()

	m.mx.ClearActiveReceive()
	m.queues.ReceiveReady.Remove(xfer)

	if err := xfer.File.Close(); err != nil {
		return fmt.Errorf("manager: closing receive file: %w", err)
	}

	final := xfer.Cmd.To
	if err := m.sp.MoveToFinal(temp, final); err != nil {
		if errAck := m.proto.SendCmd(context.Background(), "CN5"); errAck != nil {
			return errAck
		}
		return fmt.Errorf("manager: moving %s to final: %w", temp, err)
	}
	if err := m.sp.ForgetReception(xfer.Cmd.To, temp); err != nil {
		return err
	}

	metrics.FilesTransferred.WithLabelValues("receive", string(m.proto.Letter()), "ok").Inc()
	m.mu.Lock()
	m.stats = append(m.stats, statFor(xfer, "complete"))
	m.mu.Unlock()

	m.pool.Release(xfer)
	return m.proto.SendCmd(context.Background(), "CY")
}
