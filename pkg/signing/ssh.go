// Package signing produces SSH commit signatures in the armored SSHSIG
// format git and GitHub verify.
package signing

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const (
	sigMagic      = "SSHSIG"
	sigVersion    = 1
	sigNamespace  = "git"
	sigHashAlgo   = "sha512"
	armorBegin    = "-----BEGIN SSH SIGNATURE-----"
	armorEnd      = "-----END SSH SIGNATURE-----"
	armorLineSize = 70
)

// SSHSigner signs commit payloads with an SSH private key.
type SSHSigner struct {
	signer ssh.Signer
}

// NewSSHSigner wraps an existing ssh.Signer.
func NewSSHSigner(signer ssh.Signer) *SSHSigner {
	return &SSHSigner{signer: signer}
}

// LoadSSHSigner reads an unencrypted private key. An empty path falls back
// to the default keys in ~/.ssh.
func LoadSSHSigner(keyPath string) (*SSHSigner, string, error) {
	resolvedPath, err := resolveSigningKeyPath(keyPath)
	if err != nil {
		return nil, "", err
	}

	raw, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, "", fmt.Errorf("read signing key %q: %w", resolvedPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse signing key %q: %w", resolvedPath, err)
	}
	return NewSSHSigner(signer), resolvedPath, nil
}

// PublicKey returns the authorized_keys form of the signing key, which is
// what gets registered as a signing key on the remote.
func (s *SSHSigner) PublicKey() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(s.signer.PublicKey())))
}

// Sign returns the armored SSHSIG signature of payload in the "git"
// namespace.
func (s *SSHSigner) Sign(payload []byte) (string, error) {
	digest := sha512.Sum512(payload)
	signed := sshsigSignedData(digest[:])

	sig, err := s.sign(signed)
	if err != nil {
		return "", fmt.Errorf("sign commit: %w", err)
	}

	blob := append([]byte(sigMagic), ssh.Marshal(struct {
		Version       uint32
		PublicKey     []byte
		Namespace     string
		Reserved      string
		HashAlgorithm string
		Signature     []byte
	}{
		Version:       sigVersion,
		PublicKey:     s.signer.PublicKey().Marshal(),
		Namespace:     sigNamespace,
		HashAlgorithm: sigHashAlgo,
		Signature:     ssh.Marshal(sig),
	})...)
	return armor(blob), nil
}

// sign prefers rsa-sha2-512 for RSA keys; ssh-rsa (SHA-1) signatures are
// rejected by current verifiers.
func (s *SSHSigner) sign(data []byte) (*ssh.Signature, error) {
	if s.signer.PublicKey().Type() == ssh.KeyAlgoRSA {
		if as, ok := s.signer.(ssh.AlgorithmSigner); ok {
			return as.SignWithAlgorithm(rand.Reader, data, ssh.KeyAlgoRSASHA512)
		}
	}
	return s.signer.Sign(rand.Reader, data)
}

// Verify checks an armored signature produced by Sign against payload.
func Verify(pub ssh.PublicKey, payload []byte, armored string) error {
	blob, err := dearmor(armored)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(string(blob), sigMagic) {
		return fmt.Errorf("signature: missing %s preamble", sigMagic)
	}
	var wrapper struct {
		Version       uint32
		PublicKey     []byte
		Namespace     string
		Reserved      string
		HashAlgorithm string
		Signature     []byte
	}
	if err := ssh.Unmarshal(blob[len(sigMagic):], &wrapper); err != nil {
		return fmt.Errorf("signature: decode: %w", err)
	}
	if wrapper.Version != sigVersion || wrapper.Namespace != sigNamespace || wrapper.HashAlgorithm != sigHashAlgo {
		return fmt.Errorf("signature: unsupported version %d namespace %q hash %q",
			wrapper.Version, wrapper.Namespace, wrapper.HashAlgorithm)
	}
	if string(wrapper.PublicKey) != string(pub.Marshal()) {
		return fmt.Errorf("signature: made by a different key")
	}
	var sig ssh.Signature
	if err := ssh.Unmarshal(wrapper.Signature, &sig); err != nil {
		return fmt.Errorf("signature: decode inner signature: %w", err)
	}
	digest := sha512.Sum512(payload)
	return pub.Verify(sshsigSignedData(digest[:]), &sig)
}

func sshsigSignedData(digest []byte) []byte {
	return append([]byte(sigMagic), ssh.Marshal(struct {
		Namespace     string
		Reserved      string
		HashAlgorithm string
		Hash          []byte
	}{
		Namespace:     sigNamespace,
		HashAlgorithm: sigHashAlgo,
		Hash:          digest,
	})...)
}

func armor(blob []byte) string {
	enc := base64.StdEncoding.EncodeToString(blob)
	var b strings.Builder
	b.WriteString(armorBegin)
	b.WriteByte('\n')
	for len(enc) > armorLineSize {
		b.WriteString(enc[:armorLineSize])
		b.WriteByte('\n')
		enc = enc[armorLineSize:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')
	b.WriteString(armorEnd)
	return b.String()
}

func dearmor(armored string) ([]byte, error) {
	body := strings.TrimSpace(armored)
	if !strings.HasPrefix(body, armorBegin) || !strings.HasSuffix(body, armorEnd) {
		return nil, fmt.Errorf("signature: missing armor")
	}
	body = strings.TrimSuffix(strings.TrimPrefix(body, armorBegin), armorEnd)
	body = strings.Join(strings.Fields(body), "")
	blob, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("signature: decode armor: %w", err)
	}
	return blob, nil
}

func resolveSigningKeyPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return expandUserPath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	candidates := []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
	for _, candidate := range candidates {
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no default SSH private key found in ~/.ssh (id_ed25519, id_ecdsa, id_rsa)")
}

func expandUserPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}
