package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const blockTimeCacheSize = 4096

// Client is the JSON-RPC connection to one node.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	times     *blockTimeCache
}

// NewClient dials rpcURL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		times:     newBlockTimeCache(blockTimeCacheSize),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// BlockTimestamp returns the block timestamp in unix seconds. Recent
// lookups are cached since every event of a block shares one header.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.times.get(number); ok {
		return ts, nil
	}

	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	if header == nil {
		return 0, fmt.Errorf("block %d not found", number)
	}

	c.times.put(number, header.Time)
	return header.Time, nil
}

// FilterLogs returns the logs of one contract matching topic0 in the given range.
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic0}},
	})
}

// blockTimeCache is a fixed-size cache that evicts in insertion order.
type blockTimeCache struct {
	mu    sync.Mutex
	size  int
	times map[uint64]uint64
	order []uint64
}

func newBlockTimeCache(size int) *blockTimeCache {
	return &blockTimeCache{size: size, times: make(map[uint64]uint64, size)}
}

func (c *blockTimeCache) get(number uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.times[number]
	return ts, ok
}

func (c *blockTimeCache) put(number, ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.times[number]; ok {
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.times, oldest)
	}
	c.times[number] = ts
	c.order = append(c.order, number)
}
