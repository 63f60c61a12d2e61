package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"lend_go/internal/domain"
)

// MarketLookup resolves market metadata by id. Satisfied by the market
// data service.
type MarketLookup interface {
	Market(id string) *domain.Market
}

// ethCaller is the slice of the RPC client the gateway needs. Satisfied by
// *ethclient.Client; narrowed for tests.
type ethCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Function selectors, Compound-style market ABI.
var (
	selMint          = selector("mint(uint256)")
	selMintNative    = selector("mint()")
	selRedeem        = selector("redeemUnderlying(uint256)")
	selBorrow        = selector("borrow(uint256)")
	selRepay         = selector("repayBorrow(uint256)")
	selRepayNative   = selector("repayBorrow()")
	selApprove       = selector("approve(address,uint256)")
	selAllowance     = selector("allowance(address,address)")
	selBalanceOf     = selector("balanceOf(address)")
	selSupplyBalance = selector("balanceOfUnderlying(address)")
	selBorrowBalance = selector("borrowBalanceStored(address)")
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// Gateway executes protocol operations against Compound-style market
// contracts through a wallet bridge, and serves balance reads over raw
// eth_call. All amounts cross this boundary in token units; conversion to
// wei happens here and nowhere else.
type Gateway struct {
	client   ethCaller
	wallet   domain.WalletBridge
	markets  MarketLookup
	gasLimit uint64
}

// NewGateway creates a contract gateway.
func NewGateway(client ethCaller, wallet domain.WalletBridge, markets MarketLookup, gasLimit uint64) *Gateway {
	if gasLimit == 0 {
		gasLimit = 500_000
	}
	return &Gateway{
		client:   client,
		wallet:   wallet,
		markets:  markets,
		gasLimit: gasLimit,
	}
}

// Supply deposits amount into the market. Native markets send value with
// the payable mint; token markets encode the amount as calldata.
func (g *Gateway) Supply(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (string, error) {
	market, err := g.market(marketID)
	if err != nil {
		return "", err
	}
	wei := amountToWei(amount, market.Decimals)

	req := &domain.TxRequest{
		From: account,
		To:   market.MarketAddress,
		Gas:  g.gasLimit,
	}
	if market.IsNative() {
		req.Value = wei
		req.Data = selMintNative
	} else {
		req.Value = big.NewInt(0)
		req.Data = encodeCall(selMint, wei)
	}
	return g.send(ctx, "supply", req)
}

// Borrow draws amount from the market into the wallet.
func (g *Gateway) Borrow(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (string, error) {
	market, err := g.market(marketID)
	if err != nil {
		return "", err
	}
	req := &domain.TxRequest{
		From:  account,
		To:    market.MarketAddress,
		Value: big.NewInt(0),
		Data:  encodeCall(selBorrow, amountToWei(amount, market.Decimals)),
		Gas:   g.gasLimit,
	}
	return g.send(ctx, "borrow", req)
}

// Repay pays amount back against the account's debt.
func (g *Gateway) Repay(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (string, error) {
	market, err := g.market(marketID)
	if err != nil {
		return "", err
	}
	wei := amountToWei(amount, market.Decimals)

	req := &domain.TxRequest{
		From: account,
		To:   market.MarketAddress,
		Gas:  g.gasLimit,
	}
	if market.IsNative() {
		req.Value = wei
		req.Data = selRepayNative
	} else {
		req.Value = big.NewInt(0)
		req.Data = encodeCall(selRepay, wei)
	}
	return g.send(ctx, "repay", req)
}

// Withdraw redeems amount of underlying from the market.
func (g *Gateway) Withdraw(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (string, error) {
	market, err := g.market(marketID)
	if err != nil {
		return "", err
	}
	req := &domain.TxRequest{
		From:  account,
		To:    market.MarketAddress,
		Value: big.NewInt(0),
		Data:  encodeCall(selRedeem, amountToWei(amount, market.Decimals)),
		Gas:   g.gasLimit,
	}
	return g.send(ctx, "withdraw", req)
}

// Approve grants the market contract a spend allowance on the underlying
// token. No-op for native markets.
func (g *Gateway) Approve(ctx context.Context, marketID string, amount decimal.Decimal, account common.Address) (string, error) {
	market, err := g.market(marketID)
	if err != nil {
		return "", err
	}
	if market.IsNative() {
		return "", nil
	}
	data := append(encodeCall(selApprove, nil), common.LeftPadBytes(market.MarketAddress.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amountToWei(amount, market.Decimals).Bytes(), 32)...)

	req := &domain.TxRequest{
		From:  account,
		To:    market.TokenAddress,
		Value: big.NewInt(0),
		Data:  data,
		Gas:   g.gasLimit,
	}
	return g.send(ctx, "approve", req)
}

// GetPosition reads the account's supplied and borrowed balances from the
// market contract, in token units.
func (g *Gateway) GetPosition(ctx context.Context, marketID string, account common.Address) (*domain.Position, error) {
	market, err := g.market(marketID)
	if err != nil {
		return nil, err
	}

	supply, err := g.callUint(ctx, market.MarketAddress, encodeAddressCall(selSupplyBalance, account))
	if err != nil {
		return nil, domain.NewNetworkError("read supply balance", err)
	}
	borrow, err := g.callUint(ctx, market.MarketAddress, encodeAddressCall(selBorrowBalance, account))
	if err != nil {
		return nil, domain.NewNetworkError("read borrow balance", err)
	}

	return &domain.Position{
		MarketID:      marketID,
		SupplyBalance: weiToAmount(supply, market.Decimals),
		BorrowBalance: weiToAmount(borrow, market.Decimals),
	}, nil
}

// GetAllowance reads the market contract's spend allowance on the
// underlying token. Native markets report an effectively unlimited value.
func (g *Gateway) GetAllowance(ctx context.Context, marketID string, account common.Address) (decimal.Decimal, error) {
	market, err := g.market(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if market.IsNative() {
		return maxAllowance, nil
	}

	data := append(encodeCall(selAllowance, nil), common.LeftPadBytes(account.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(market.MarketAddress.Bytes(), 32)...)

	raw, err := g.callUint(ctx, market.TokenAddress, data)
	if err != nil {
		return decimal.Zero, domain.NewNetworkError("read allowance", err)
	}
	return weiToAmount(raw, market.Decimals), nil
}

// GetWalletBalance reads the wallet's underlying token balance.
func (g *Gateway) GetWalletBalance(ctx context.Context, marketID string, account common.Address) (decimal.Decimal, error) {
	market, err := g.market(marketID)
	if err != nil {
		return decimal.Zero, err
	}

	if market.IsNative() {
		wei, err := g.client.BalanceAt(ctx, account, nil)
		if err != nil {
			return decimal.Zero, domain.NewNetworkError("read native balance", err)
		}
		return weiToAmount(wei, market.Decimals), nil
	}

	raw, err := g.callUint(ctx, market.TokenAddress, encodeAddressCall(selBalanceOf, account))
	if err != nil {
		return decimal.Zero, domain.NewNetworkError("read token balance", err)
	}
	return weiToAmount(raw, market.Decimals), nil
}

var maxAllowance = decimal.RequireFromString("115792089237316195423570985008687907853269984665640564039457")

func (g *Gateway) market(marketID string) (*domain.Market, error) {
	market := g.markets.Market(marketID)
	if market == nil {
		return nil, domain.ErrMarketNotFound
	}
	return market, nil
}

func (g *Gateway) send(ctx context.Context, op string, req *domain.TxRequest) (string, error) {
	hash, err := g.wallet.SendTransaction(ctx, req)
	if err != nil {
		classified := classify(op, err)
		slog.Warn("Transaction submit failed",
			slog.String("op", op),
			slog.Any("error", classified),
		)
		return "", classified
	}
	slog.Info("Transaction submitted",
		slog.String("op", op),
		slog.String("to", req.To.Hex()),
		slog.String("tx", hash),
	)
	return hash, nil
}

func (g *Gateway) callUint(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) < 32 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// classify splits wallet errors into on-chain reverts (dead) and transport
// failures (retriable).
func classify(op string, err error) error {
	var revert *domain.RevertError
	if errors.As(err, &revert) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") {
		reason := ""
		if idx := strings.Index(msg, "revert"); idx >= 0 {
			reason = strings.TrimSpace(strings.TrimPrefix(msg[idx:], "reverted:"))
			reason = strings.TrimSpace(strings.TrimPrefix(reason, "revert"))
			reason = strings.TrimPrefix(reason, ":")
			reason = strings.TrimSpace(reason)
		}
		return &domain.RevertError{Op: op, Reason: reason}
	}
	return domain.NewNetworkError(op, err)
}

// encodeCall builds selector plus one optional uint256 argument.
func encodeCall(sel []byte, arg *big.Int) []byte {
	out := make([]byte, 0, 36)
	out = append(out, sel...)
	if arg != nil {
		out = append(out, common.LeftPadBytes(arg.Bytes(), 32)...)
	}
	return out
}

func encodeAddressCall(sel []byte, addr common.Address) []byte {
	out := make([]byte, 0, 36)
	out = append(out, sel...)
	out = append(out, common.LeftPadBytes(addr.Bytes(), 32)...)
	return out
}

// amountToWei converts token units to the chain's integer representation,
// truncating any dust below the token's precision.
func amountToWei(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// weiToAmount converts the chain's integer representation to token units.
func weiToAmount(wei *big.Int, decimals int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Shift(int32(-decimals))
}
