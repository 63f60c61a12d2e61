package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"lend_go/internal/domain"
)

// NoWallet is the bridge for read-only hosts without a signing key. Every
// submission fails with a validation error instead of reaching a nil key.
type NoWallet struct{}

func (NoWallet) SendTransaction(ctx context.Context, req *domain.TxRequest) (string, error) {
	return "", domain.NewValidationError("wallet", "no signing wallet configured")
}

// txSender is the slice of the RPC client the wallet needs.
type txSender interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// LocalWallet signs transactions with an in-process key and submits them
// over RPC. Hosts with an external wallet integration supply their own
// bridge instead; this one exists for headless operation.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	client  txSender
	chainID *big.Int
}

// NewLocalWallet creates a wallet from a hex-encoded private key.
func NewLocalWallet(hexKey string, client txSender, chainID int64) (*LocalWallet, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &LocalWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		client:  client,
		chainID: big.NewInt(chainID),
	}, nil
}

// Address returns the wallet's account address.
func (w *LocalWallet) Address() common.Address {
	return w.address
}

// SendTransaction signs and submits the request, returning the transaction
// hash. Unlike browser wallet integrations, the local wallet always knows
// its hash.
func (w *LocalWallet) SendTransaction(ctx context.Context, req *domain.TxRequest) (string, error) {
	if req.From != (common.Address{}) && req.From != w.address {
		return "", domain.NewValidationError("from", "request account does not match wallet")
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", domain.NewNetworkError("nonce", err)
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", domain.NewNetworkError("gas price", err)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    value,
		Gas:      req.Gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return "", classify("send", err)
	}
	return signed.Hash().Hex(), nil
}
