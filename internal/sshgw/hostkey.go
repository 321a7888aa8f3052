package sshgw

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// loadOrCreateHostKey reads an Ed25519 private key from path, generating
// and persisting a fresh one on first boot if the file is absent.
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("sshgw: parsing host key at %s: %w", path, err)
		}
		return signer, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("sshgw: reading host key at %s: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sshgw: generating host key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "tunnelgate host key")
	if err != nil {
		return nil, fmt.Errorf("sshgw: marshaling host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(block)
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, fmt.Errorf("sshgw: writing host key to %s: %w", path, err)
	}

	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("sshgw: parsing freshly generated host key: %w", err)
	}
	return signer, nil
}
