package executor

import (
	"crypto/ed25519"
	"errors"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// probeKey never matches a real host key; checking it against known_hosts
// tells apart hosts with no entry (empty Want) from hosts that have one.
var probeKey = func() ssh.PublicKey {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil
	}
	return key
}()

// hostListed reports whether any of the known_hosts files has an entry for host:port.
func hostListed(files []string, host string, port int) (bool, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 || probeKey == nil {
		return false, nil
	}

	callback, err := knownhosts.New(existing...)
	if err != nil {
		return false, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	err = callback(addr, &net.TCPAddr{IP: net.IPv4zero, Port: port}, probeKey)

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return len(keyErr.Want) > 0, nil
	}
	return err == nil, nil
}
