package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Result is the external runner's structured report for one invocation,
// decoded from its stdout.
type Result struct {
	Extension map[string]any `json:"extension"`
}

// Invoker runs the external container runner binary against a Config
// document, feeding it on stdin and decoding its stdout as a Result.
type Invoker struct {
	BinPath string
}

// NewInvoker builds an Invoker that shells out to binPath.
func NewInvoker(binPath string) *Invoker {
	return &Invoker{BinPath: binPath}
}

// Invoke runs cfg through the external runner on a blocking task and
// returns its structured report.
func (inv *Invoker) Invoke(ctx context.Context, cfg *Config) (*Result, error) {
	payload, err := marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal runner config: %w", err)
	}

	cmd := exec.CommandContext(ctx, inv.BinPath)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("runner exited with error: %w: %s", err, stderr.String())
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode runner output: %w", err)
	}

	return &result, nil
}
