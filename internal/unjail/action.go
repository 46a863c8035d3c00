package unjail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
)

// unjailPayload is the signed action the node binary submits on our behalf.
const unjailPayload = `{"type":"CSignerAction","unjailSelf":null}`

// Runner submits a single unjail action. The scheduler drives retries,
// the runner only knows how to fire once.
type Runner interface {
	Unjail(ctx context.Context) error
	SignerAddress() string
}

// Action shells out to the hl-node binary with the operator's signer key.
type Action struct {
	binary string
	chain  string
	key    string
	signer string
}

// NewAction validates the private key up front so a bad key fails at
// startup rather than thirty minutes into a jail incident.
func NewAction(binary, chain, privateKey string) (*Action, error) {
	if binary == "" {
		return nil, fmt.Errorf("unjail: node binary path is empty")
	}
	key := strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	priv, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("unjail: invalid signer key: %w", err)
	}
	signer := crypto.PubkeyToAddress(priv.PublicKey).Hex()
	return &Action{binary: binary, chain: chain, key: key, signer: signer}, nil
}

// SignerAddress returns the address derived from the configured key.
func (a *Action) SignerAddress() string { return a.signer }

// Unjail runs the node binary once and inspects its JSON response.
// The key never appears in logs or errors.
func (a *Action) Unjail(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, a.binary,
		"--chain", a.chain,
		"--key", a.key,
		"send-signed-action", unjailPayload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Info("UNJAIL", "Submitting unjail action via %s (chain %s)", a.binary, a.chain)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("unjail: node binary failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return fmt.Errorf("unjail: node binary produced no output")
	}
	// The binary may print log lines before the response; the JSON
	// object is the last line.
	lines := strings.Split(out, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var resp struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal([]byte(last), &resp); err != nil {
		return fmt.Errorf("unjail: unparseable response %q: %w", truncateOut(last), err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unjail: action rejected: %s", truncateOut(last))
	}
	logger.Info("UNJAIL", "Unjail action accepted by the network")
	return nil
}

func truncateOut(s string) string {
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
