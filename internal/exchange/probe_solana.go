package exchange

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaProbe checks RPC node health and reports the current slot.
type SolanaProbe struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewSolanaProbe targets the JSON-RPC endpoint at url.
func NewSolanaProbe(url, commitment string) *SolanaProbe {
	c := rpc.CommitmentConfirmed
	switch commitment {
	case "processed":
		c = rpc.CommitmentProcessed
	case "finalized":
		c = rpc.CommitmentFinalized
	}
	return &SolanaProbe{client: rpc.New(url), commitment: c}
}

// Check implements Prober.
func (p *SolanaProbe) Check(ctx context.Context) (uint64, error) {
	status, err := p.client.GetHealth(ctx)
	if err != nil {
		return 0, fmt.Errorf("solana getHealth: %w", err)
	}
	if status != "ok" {
		return 0, fmt.Errorf("solana node unhealthy: %s", status)
	}
	slot, err := p.client.GetSlot(ctx, p.commitment)
	if err != nil {
		return 0, fmt.Errorf("solana getSlot: %w", err)
	}
	return slot, nil
}
