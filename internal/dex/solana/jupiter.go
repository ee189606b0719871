// Package solana routes orders through the Jupiter aggregator and signs them with a local wallet.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// JupiterClient quotes swaps over the Jupiter HTTP API and submits them over Solana RPC.
type JupiterClient struct {
	Base   string
	RPC    *rpc.Client
	Owner  solana.PrivateKey
	Commit rpc.CommitmentType
	Http   *http.Client
	// PriorityFeeLamports is passed to Jupiter as the swap's prioritization fee.
	PriorityFeeLamports uint64
}

// Quote is the subset of Jupiter's quote response the executor relies on; it is echoed back on swap.
type Quote struct {
	InputMint      string  `json:"inputMint"`
	OutputMint     string  `json:"outputMint"`
	InAmount       string  `json:"inAmount"`
	OutAmount      string  `json:"outAmount"`
	OtherAmount    string  `json:"otherAmountThreshold"`
	SlippageBps    int     `json:"slippageBps"`
	RoutePlan      any     `json:"routePlan"`
	PriceImpactPct float64 `json:"priceImpactPct,string"`
}

// ParseCommitment maps a config string onto an RPC commitment, defaulting to confirmed.
func ParseCommitment(commit string) rpc.CommitmentType {
	switch commit {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

func NewJupiterClient(rpcURL, base string, owner solana.PrivateKey, commit string) *JupiterClient {
	return &JupiterClient{
		Base:   base,
		RPC:    rpc.New(rpcURL),
		Owner:  owner,
		Commit: ParseCommitment(commit),
		Http:   &http.Client{Timeout: 8 * time.Second},
	}
}

// HealthCheck asks the RPC node whether it is caught up with the cluster.
func (j *JupiterClient) HealthCheck(ctx context.Context) error {
	status, err := j.RPC.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("rpc getHealth: %w", err)
	}
	if status != "ok" {
		return fmt.Errorf("rpc node unhealthy: %s", status)
	}
	return nil
}

// ErrNoRoute is returned when Jupiter quotes no output for the requested swap.
var ErrNoRoute = errors.New("jupiter: no route")

const maxErrorBody = 512

// GetQuote requests a route; amount is in the input mint's smallest units.
func (j *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	q := url.Values{
		"inputMint":        {inputMint},
		"outputMint":       {outputMint},
		"amount":           {strconv.FormatUint(amount, 10)},
		"slippageBps":      {strconv.Itoa(slippageBps)},
		"onlyDirectRoutes": {"false"},
	}
	var out Quote
	if err := j.call(ctx, http.MethodGet, "/v6/quote?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	if out.OutAmount == "" || out.OutAmount == "0" {
		return nil, fmt.Errorf("%w for %s -> %s", ErrNoRoute, inputMint, outputMint)
	}
	return &out, nil
}

// BuildAndSendSwap asks Jupiter for the swap transaction, signs it with the
// owner key and submits it with preflight at the client's commitment.
func (j *JupiterClient) BuildAndSendSwap(ctx context.Context, quote *Quote) (solana.Signature, error) {
	req := swapRequest{
		UserPublicKey:    j.Owner.PublicKey().String(),
		WrapAndUnwrapSol: true,
		PriorityFee:      j.PriorityFeeLamports,
		Quote:            quote,
	}
	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := j.call(ctx, http.MethodPost, "/v6/swap", req, &resp); err != nil {
		return solana.Signature{}, fmt.Errorf("jupiter swap: %w", err)
	}
	tx, err := decodeTransaction(resp.SwapTransaction)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := j.sign(tx); err != nil {
		return solana.Signature{}, err
	}
	return j.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: j.Commit})
}

type swapRequest struct {
	UserPublicKey    string `json:"userPublicKey"`
	WrapAndUnwrapSol bool   `json:"wrapAndUnwrapSol"`
	PriorityFee      uint64 `json:"prioritizationFeeLamports"`
	Quote            *Quote `json:"quoteResponse"`
}

// call sends an optional JSON body to the Jupiter API and decodes a 200 response into out.
func (j *JupiterClient) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, j.Base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := j.Http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func decodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return tx, nil
}

func (j *JupiterClient) sign(tx *solana.Transaction) error {
	// Jupiter returns zeroed placeholder signatures; Sign appends.
	tx.Signatures = tx.Signatures[:0]
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(j.Owner.PublicKey()) {
			return &j.Owner
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return nil
}
