package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"zakobox-go/internal/logging"
)

// Call is one ledger invocation: a read when used with CallView, a
// state-changing transaction when used with Submit.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Signer is the signing capability a wallet session supplies for
// state-changing calls.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Gateway is the read/write surface of the external ledger. Client implements
// it against a real node; tests substitute an in-memory ledger.
type Gateway interface {
	ChainID() *big.Int
	CallView(ctx context.Context, call Call) ([]byte, error)
	Submit(ctx context.Context, signer Signer, call Call) (common.Hash, error)
	AwaitFinality(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Client wraps an Ethereum node connection.
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	chainID *big.Int

	pollInterval    time.Duration
	finalityTimeout time.Duration

	log *logrus.Entry
}

// Dial connects to a node and resolves the chain id.
func Dial(ctx context.Context, rpcURL string, pollInterval, finalityTimeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, &SubmissionError{Err: err}
	}

	return &Client{
		eth:             eth,
		rpc:             rpcClient,
		chainID:         chainID,
		pollInterval:    pollInterval,
		finalityTimeout: finalityTimeout,
		log:             logging.Component("chain"),
	}, nil
}

func (c *Client) Close() { c.rpc.Close() }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// CallView performs an eth_call against the latest block.
func (c *Client) CallView(ctx context.Context, call Call) ([]byte, error) {
	msg := ethereum.CallMsg{To: &call.To, Value: call.Value, Data: call.Data}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, &QueryError{Op: "eth_call", Err: err}
	}
	return out, nil
}

// Submit fills in nonce, gas and fees, has the signer sign the transaction,
// and broadcasts it. The returned hash identifies the pending call;
// AwaitFinality observes its outcome.
func (c *Client) Submit(ctx context.Context, signer Signer, call Call) (common.Hash, error) {
	from := signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, &SubmissionError{Err: err}
	}

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, &SubmissionError{Err: err}
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, &SubmissionError{Err: err}
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &call.To,
		Value: call.Value,
		Data:  call.Data,
	})
	if err != nil {
		return common.Hash{}, &SubmissionError{Err: err}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &call.To,
		Value:     call.Value,
		Data:      call.Data,
	})

	signed, err := signer.SignTx(ctx, tx, c.chainID)
	if err != nil {
		if errors.Is(err, ErrSigningDeclined) {
			return common.Hash{}, err
		}
		return common.Hash{}, &SubmissionError{Err: err}
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, &SubmissionError{Err: err}
	}

	c.log.WithFields(logrus.Fields{"tx": signed.Hash().Hex(), "to": call.To.Hex()}).Debug("transaction submitted")
	return signed.Hash(), nil
}

// AwaitFinality polls for the receipt until it is mined or the configured
// timeout elapses. A mined-but-failed receipt is a RevertError; a timeout is
// reported like any other submission failure.
func (c *Client) AwaitFinality(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.finalityTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, &RevertError{Tx: hash}
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, &SubmissionError{Err: err}
		}

		select {
		case <-ctx.Done():
			return nil, &SubmissionError{Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}
