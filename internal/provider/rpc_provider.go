package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/core-coin/core-etl-go/internal/types"
)

const (
	connectAttempts = 5
	connectPause    = 5 * time.Second
)

// RPCProvider is the websocket JSON-RPC-backed Provider implementation.
type RPCProvider struct {
	client *gethrpc.Client
	log    *zap.Logger
}

// Dial connects to a Core Blockchain node over a pubsub websocket, retrying
// up to connectAttempts times with a connectPause between attempts. Failure
// after all attempts is fatal to the caller.
func Dial(ctx context.Context, url string, log *zap.Logger) (*RPCProvider, error) {
	var (
		client *gethrpc.Client
		err    error
	)
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err = gethrpc.DialContext(ctx, url)
		if err == nil {
			break
		}
		log.Info("connecting to provider",
			zap.String("url", url),
			zap.Int("attempt", attempt))
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectPause):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("provider: dial %s after %d attempts: %w", url, connectAttempts, err)
	}
	log.Info("connected to provider", zap.String("url", url))
	return &RPCProvider{client: client, log: log}, nil
}

func (p *RPCProvider) Close() {
	p.client.Close()
}

// rpcBlock mirrors the JSON shape of eth_getBlockByNumber's result.
type rpcBlock struct {
	Number           hexInt64    `json:"number"`
	Hash             string      `json:"hash"`
	ParentHash       string      `json:"parentHash"`
	Nonce            string      `json:"nonce"`
	Sha3Uncles       string      `json:"sha3Uncles"`
	LogsBloom        string      `json:"logsBloom"`
	TransactionsRoot string      `json:"transactionsRoot"`
	StateRoot        string      `json:"stateRoot"`
	ReceiptsRoot     string      `json:"receiptsRoot"`
	Miner            string      `json:"miner"`
	Difficulty       hexBigInt   `json:"difficulty"`
	TotalDifficulty  hexBigInt   `json:"totalDifficulty"`
	ExtraData        string      `json:"extraData"`
	GasLimit         hexInt64    `json:"gasLimit"`
	GasUsed          hexInt64    `json:"gasUsed"`
	Timestamp        hexInt64    `json:"timestamp"`
	Transactions     []rpcTxJSON `json:"transactions"`
}

// rpcTxJSON unmarshals either a bare tx-hash string (when the block was
// fetched without full transactions) or a full transaction object.
type rpcTxJSON struct {
	raw json.RawMessage
}

func (t *rpcTxJSON) UnmarshalJSON(data []byte) error {
	t.raw = append([]byte(nil), data...)
	return nil
}

type rpcTx struct {
	Hash             string    `json:"hash"`
	Nonce            hexInt64  `json:"nonce"`
	BlockHash        string    `json:"blockHash"`
	BlockNumber      hexInt64  `json:"blockNumber"`
	TransactionIndex hexInt64  `json:"transactionIndex"`
	From             string    `json:"from"`
	To               string    `json:"to"`
	Value            hexBigInt `json:"value"`
	Gas              hexInt64  `json:"gas"`
	GasPrice         hexBigInt `json:"gasPrice"`
	Input            string    `json:"input"`
}

type rpcReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	Status          hexInt64 `json:"status"`
}

type rpcSyncing struct {
	CurrentBlock hexInt64 `json:"currentBlock"`
	HighestBlock hexInt64 `json:"highestBlock"`
}

func toBlock(b rpcBlock) types.Block {
	return types.Block{
		Number:           int64(b.Number),
		Hash:             types.NormalizeHex(b.Hash),
		ParentHash:       types.NormalizeHex(b.ParentHash),
		Nonce:            types.NormalizeHex(b.Nonce),
		Sha3Uncles:       types.NormalizeHex(b.Sha3Uncles),
		LogsBloom:        types.NormalizeHex(b.LogsBloom),
		TransactionsRoot: types.NormalizeHex(b.TransactionsRoot),
		StateRoot:        types.NormalizeHex(b.StateRoot),
		ReceiptsRoot:     types.NormalizeHex(b.ReceiptsRoot),
		Miner:            types.NormalizeHex(b.Miner),
		Difficulty:       (*big.Int)(&b.Difficulty).String(),
		TotalDifficulty:  (*big.Int)(&b.TotalDifficulty).String(),
		ExtraData:        types.NormalizeHex(b.ExtraData),
		EnergyLimit:      int64(b.GasLimit),
		EnergyUsed:       int64(b.GasUsed),
		Timestamp:        int64(b.Timestamp),
		TransactionCount: int64(len(b.Transactions)),
	}
}

func toTransaction(t rpcTx) types.Transaction {
	return types.Transaction{
		Hash:             types.NormalizeHex(t.Hash),
		Nonce:            int64(t.Nonce),
		BlockHash:        types.NormalizeHex(t.BlockHash),
		BlockNumber:      int64(t.BlockNumber),
		TransactionIndex: int64(t.TransactionIndex),
		From:             types.NormalizeHex(t.From),
		To:               types.NormalizeHex(t.To),
		Value:            (*big.Int)(&t.Value).String(),
		Energy:           int64(t.Gas),
		EnergyPrice:      (*big.Int)(&t.GasPrice).String(),
		Input:            types.NormalizeHex(t.Input),
	}
}

func (p *RPCProvider) LatestBlock(ctx context.Context) (types.Block, error) {
	var raw rpcBlock
	if err := p.client.CallContext(ctx, &raw, "eth_getBlockByNumber", "latest", false); err != nil {
		return types.Block{}, fmt.Errorf("provider: latest block: %w", err)
	}
	return toBlock(raw), nil
}

func (p *RPCProvider) BlockByNumber(ctx context.Context, n int64, withTxs bool) (types.Block, []types.Transaction, error) {
	var raw rpcBlock
	tag := fmt.Sprintf("0x%x", n)
	if err := p.client.CallContext(ctx, &raw, "eth_getBlockByNumber", tag, withTxs); err != nil {
		return types.Block{}, nil, fmt.Errorf("provider: block %d: %w", n, err)
	}
	block := toBlock(raw)
	if !withTxs {
		return block, nil, nil
	}
	txs := make([]types.Transaction, 0, len(raw.Transactions))
	for _, rt := range raw.Transactions {
		var full rpcTx
		if err := json.Unmarshal(rt.raw, &full); err != nil {
			return types.Block{}, nil, fmt.Errorf("provider: decode tx in block %d: %w", n, err)
		}
		txs = append(txs, toTransaction(full))
	}
	return block, txs, nil
}

// rpcHeader mirrors a newHeads subscription notification. Number is a
// pointer because a node may emit a pending header with no number populated;
// spec requires such headers never reach the sync engine.
type rpcHeader struct {
	Number *hexInt64 `json:"number"`
	Hash   string    `json:"hash"`
}

func (p *RPCProvider) SubscribeNewHeads(ctx context.Context) (<-chan BlockHeader, <-chan error, error) {
	headers := make(chan BlockHeader)
	rawHeaders := make(chan rpcHeader)
	sub, err := p.client.EthSubscribe(ctx, rawHeaders, "newHeads")
	if err != nil {
		return nil, nil, fmt.Errorf("provider: subscribe newHeads: %w", err)
	}
	errc := make(chan error, 1)
	go func() {
		defer close(headers)
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				errc <- err
				return
			case raw := <-rawHeaders:
				if raw.Number == nil {
					continue
				}
				n := int64(*raw.Number)
				headers <- BlockHeader{Number: &n, Hash: types.NormalizeHex(raw.Hash)}
			}
		}
	}()
	return headers, errc, nil
}

func (p *RPCProvider) TransactionReceipt(ctx context.Context, txHash string) (Receipt, error) {
	var raw rpcReceipt
	if err := p.client.CallContext(ctx, &raw, "eth_getTransactionReceipt", "0x"+txHash); err != nil {
		return Receipt{}, fmt.Errorf("provider: receipt %s: %w", txHash, err)
	}
	if raw.TransactionHash == "" {
		return Receipt{}, ErrReceiptNotFound
	}
	return Receipt{
		TransactionHash: types.NormalizeHex(raw.TransactionHash),
		Status:          raw.Status == 1,
	}, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (uint64, error) {
	var raw hexInt64
	if err := p.client.CallContext(ctx, &raw, "eth_chainId"); err != nil {
		return 0, fmt.Errorf("provider: chain id: %w", err)
	}
	return uint64(raw), nil
}

func (p *RPCProvider) SyncStatus(ctx context.Context) (*types.NodeSyncStatus, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, "eth_syncing"); err != nil {
		return nil, fmt.Errorf("provider: sync status: %w", err)
	}
	if string(raw) == "false" || string(raw) == "null" {
		return nil, nil
	}
	var s rpcSyncing
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("provider: decode sync status: %w", err)
	}
	return &types.NodeSyncStatus{
		CurrentBlock: int64(s.CurrentBlock),
		HighestBlock: int64(s.HighestBlock),
	}, nil
}
