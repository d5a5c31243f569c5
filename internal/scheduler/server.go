package scheduler

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/rpc"
	"strings"

	"github.com/coreos/debile/internal/store"
)

// Serve accepts TLS connections on ln (already configured with
// ClientAuth: tls.RequireAndVerifyClientCert — see DESIGN.md for why
// net/rpc+TLS rather than gRPC or XML-RPC), authenticates each one against
// the Builder/Person tables by the peer certificate's fingerprint, and
// serves the RPC surface with an API receiver fixed to that principal for
// the life of the connection. Serve returns nil once a requested drain
// completes (spec.md §4.4), which closes the listener; any other Accept
// error, including one from a listener closed by another caller, is
// returned.
func (c *Coordinator) Serve(ln net.Listener) error {
	go func() {
		<-c.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-c.Done():
				return nil
			default:
				return fmt.Errorf("scheduler: accept: %w", err)
			}
		}
		go c.serveConn(conn)
	}
}

func (c *Coordinator) serveConn(conn net.Conn) {
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		plog.Errorf("connection from %s is not TLS", conn.RemoteAddr())
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		plog.Errorf("TLS handshake with %s: %v", conn.RemoteAddr(), err)
		return
	}

	peerCerts := tlsConn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		plog.Errorf("connection from %s presented no client certificate", conn.RemoteAddr())
		return
	}
	fingerprint := sha1Fingerprint(peerCerts[0].Raw)

	api, err := c.authenticate(fingerprint)
	if err != nil {
		plog.Errorf("reject connection from %s: %v", conn.RemoteAddr(), err)
		return
	}

	srv := rpc.NewServer()
	if err := srv.RegisterName("Debile", &recoveringAPI{API: api}); err != nil {
		plog.Errorf("register RPC receiver: %v", err)
		return
	}
	srv.ServeConn(conn)
}

// authenticate resolves a peer certificate's transport fingerprint to a
// Builder or Person, in that order — matching server.py's "%"/"@" entity
// prefix dispatch, minus the prefix (the fingerprint alone now disambiguates
// since only one of the two tables will match it).
func (c *Coordinator) authenticate(fingerprint string) (*API, error) {
	var api *API
	err := c.withTx(context.Background(), func(tx *store.Tx) error {
		if b, err := tx.GetBuilderByTransportFingerprint(fingerprint); err == nil {
			if b.Disabled() {
				return fmt.Errorf("builder %q is disabled", b.Name)
			}
			api = &API{Coordinator: c, Builder: b}
			return nil
		} else if err != store.ErrNotFound {
			return err
		}

		if p, err := tx.GetPersonByTransportFingerprint(fingerprint); err == nil {
			if p.Disabled() {
				return fmt.Errorf("user %q is disabled", p.Username)
			}
			api = &API{Coordinator: c, User: p}
			return nil
		} else if err != store.ErrNotFound {
			return err
		}

		return fmt.Errorf("no principal matches fingerprint %s", fingerprint)
	})
	if err != nil {
		return nil, err
	}
	return api, nil
}

func sha1Fingerprint(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
