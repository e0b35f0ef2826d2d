package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/config"
	"github.com/openuucp/gouucp/pkg/spool"
	"github.com/openuucp/gouucp/pkg/statusfile"
	"github.com/openuucp/gouucp/pkg/uucplog"

	uucp "github.com/openuucp/gouucp"
)

var defaultRegistryPath = "/etc/uucp/registry.ini"
var defaultStatusPath = "/var/spool/uucp/.Status/status.ini"

func main() {
	log.SetLevel(log.InfoLevel)

	registryPath := flag.String("c", defaultRegistryPath, "systems/ports/dialers registry file")
	statusPath := flag.String("I", defaultStatusPath, "status file path")
	systemName := flag.String("s", "", "system to call out to (master mode)")
	listenAddr := flag.String("l", "", "address to listen on for incoming calls, e.g. :6600 (slave mode)")
	debugMask := flag.String("x", "", "debug mask, e.g. handshake,protocol")
	flag.Parse()

	if *debugMask != "" {
		log.SetLevel(uucplog.ParseDebugMask(*debugMask))
	}

	reg, err := config.Load(*registryPath)
	if err != nil {
		fmt.Printf("error loading registry %v: %v\n", *registryPath, err)
		os.Exit(1)
	}

	status, err := statusfile.Open(*statusPath)
	if err != nil {
		fmt.Printf("error opening status file %v: %v\n", *statusPath, err)
		os.Exit(1)
	}

	endpoint := &uucp.Endpoint{
		Registry: reg,
		Spool:    spool.NewMemory(),
		Status:   status,
		Log:      uucplog.New(log.Fields{"cmd": "uucico"}),
	}

	ctx := context.Background()

	switch {
	case *listenAddr != "":
		if err := serve(ctx, endpoint, *listenAddr); err != nil {
			fmt.Printf("listener exited: %v\n", err)
			os.Exit(1)
		}
	case *systemName != "":
		if err := call(ctx, endpoint, *systemName); err != nil {
			fmt.Printf("call to %v failed: %v\n", *systemName, err)
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// call places one outbound conversation with systemName and runs it to
// completion, mirroring a single-shot uucico master-mode invocation.
func call(ctx context.Context, endpoint *uucp.Endpoint, systemName string) error {
	sess, err := endpoint.Dial(ctx, systemName)
	if err != nil {
		return err
	}
	return sess.Run(ctx)
}

// serve listens for incoming TCP connections and runs one Session per
// accepted connection (slave-mode uucico, as typically invoked from a
// listener started by inetd or sshd's ForceCommand in the reference).
func serve(ctx context.Context, endpoint *uucp.Endpoint, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()
	log.Infof("uucico listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go acceptOne(ctx, endpoint, conn)
	}
}

func acceptOne(ctx context.Context, endpoint *uucp.Endpoint, conn net.Conn) {
	ch := channel.NewTCPChannel(conn)
	port := config.Port{Name: "listener", Kind: "tcp"}
	sess, err := endpoint.Accept(ctx, ch, port)
	if err != nil {
		log.Errorf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		ch.Close()
		return
	}
	if err := sess.Run(ctx); err != nil {
		log.Errorf("session with %s ended: %v", conn.RemoteAddr(), err)
	}
}
