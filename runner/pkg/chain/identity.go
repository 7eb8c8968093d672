package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is one configured wallet. Index is its 1-based position in the key
// list and stays stable across runs.
type Identity struct {
	Index   int
	Key     *ecdsa.PrivateKey
	Address common.Address
}

var ErrInvalidKey = errors.New("invalid private key")

func ParseIdentity(index int, hexKey string) (Identity, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return Identity{}, fmt.Errorf("%w at position %d", ErrInvalidKey, index)
	}
	return Identity{
		Index:   index,
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// WalletKey is the ledger key for the wallet: its checksummed address.
func (id Identity) WalletKey() string { return id.Address.Hex() }

// SignPersonal produces an EIP-191 personal_sign signature, hex encoded.
func (id Identity) SignPersonal(msg []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), id.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverPersonal returns the signer of an EIP-191 signature.
func RecoverPersonal(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.New("invalid signature length")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
