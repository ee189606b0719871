package solana

import (
	"errors"
	"fmt"
	"os"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

const (
	// PrivateKeyEnv holds a base58 signing key.
	PrivateKeyEnv = "SOLANA_PRIVATE_KEY_BASE58"
	// KeypairPathEnv names a solana-keygen JSON keypair file.
	KeypairPathEnv = "SOLANA_KEYPAIR_PATH"
)

// ErrNoWallet is returned when no key source is configured.
var ErrNoWallet = errors.New("no signing key configured")

// LoadPrivateKey resolves the signing key from, in order, PrivateKeyEnv,
// the keypair file named by KeypairPathEnv, then the configured base58 value.
// A .env file in the working directory is loaded first.
func LoadPrivateKey(configured string) (solana.PrivateKey, error) {
	_ = godotenv.Load()
	if b58 := strings.TrimSpace(os.Getenv(PrivateKeyEnv)); b58 != "" {
		return parseKey(PrivateKeyEnv, b58)
	}
	if path := strings.TrimSpace(os.Getenv(KeypairPathEnv)); path != "" {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeypairPathEnv, err)
		}
		return key, nil
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return parseKey("wallet.private_key_base58", configured)
	}
	return nil, fmt.Errorf("%w: set %s, %s or wallet.private_key_base58", ErrNoWallet, PrivateKeyEnv, KeypairPathEnv)
}

func parseKey(source, b58 string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return key, nil
}
