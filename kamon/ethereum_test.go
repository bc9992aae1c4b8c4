// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kamon

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kamoncontract "github.com/henkaku/kamonsync/contracts/kamon"
	"github.com/henkaku/kamonsync/contracts/kamon/contract"
)

var (
	nftAddress    = common.HexToAddress("0x539BCf896f02459dBcB3a2F1D823d2E65DB7211C")
	pointsAddress = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// fakeBackend answers contract calls from canned return values and records
// sent transactions. It satisfies bind.ContractBackend and bind.DeployBackend.
type fakeBackend struct {
	mu      sync.Mutex
	abis    map[common.Address]abi.ABI
	returns map[string][]interface{} // method name -> outputs
	sendErr error
	status  uint64
	sent    []*types.Transaction
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	nftABI, err := abi.JSON(strings.NewReader(contract.KamonNFTABI))
	require.NoError(t, err)
	pointsABI, err := abi.JSON(strings.NewReader(contract.QuestPointsABI))
	require.NoError(t, err)
	return &fakeBackend{
		abis:    map[common.Address]abi.ABI{nftAddress: nftABI, pointsAddress: pointsABI},
		returns: make(map[string][]interface{}),
		status:  types.ReceiptStatusSuccessful,
	}
}

func (b *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parsed, ok := b.abis[*call.To]
	if !ok {
		return nil, fmt.Errorf("no contract at %s", call.To)
	}
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	outputs, ok := b.returns[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(outputs...)
}

func (b *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Receipt{TxHash: txHash, Status: b.status}, nil
}

// testTransactor signs with a throwaway key and fixed gas parameters so no
// node queries are needed.
func testTransactor(t *testing.T) *bind.TransactOpts {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &bind.TransactOpts{
		From:     crypto.PubkeyToAddress(key.PublicKey),
		Nonce:    big.NewInt(0),
		GasPrice: big.NewInt(1),
		GasLimit: 100000,
		Signer: func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return types.SignTx(tx, types.HomesteadSigner{}, key)
		},
	}
}

func newTestBackend(t *testing.T, fb *fakeBackend, opts *bind.TransactOpts, mined bool) *EthereumBackend {
	t.Helper()
	nft, err := kamoncontract.NewKamonNFT(nftAddress, fb)
	require.NoError(t, err)
	points, err := kamoncontract.NewQuestPoints(pointsAddress, fb)
	require.NoError(t, err)
	var deploy bind.DeployBackend
	if mined {
		deploy = fb
	}
	return NewEthereumBackend(nft, points, opts, deploy)
}

func TestEthereumBackend_TokenOf(t *testing.T) {
	fb := newFakeBackend(t)
	fb.returns["tokenIdOf"] = []interface{}{big.NewInt(7)}
	fb.returns["ownerOf"] = []interface{}{testOwner}
	fb.returns["tokenURI"] = []interface{}{"ipfs://QmCurrent"}
	backend := newTestBackend(t, fb, nil, false)

	id, uri, err := backend.TokenOf(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	assert.Equal(t, "ipfs://QmCurrent", uri)
}

func TestEthereumBackend_TokenOfTransferred(t *testing.T) {
	fb := newFakeBackend(t)
	fb.returns["tokenIdOf"] = []interface{}{big.NewInt(7)}
	fb.returns["ownerOf"] = []interface{}{otherOwner}
	fb.returns["tokenURI"] = []interface{}{"ipfs://QmCurrent"}
	backend := newTestBackend(t, fb, nil, false)

	id, uri, err := backend.TokenOf(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, uri)
}

func TestEthereumBackend_TokenOfOwnerReadFails(t *testing.T) {
	fb := newFakeBackend(t)
	fb.returns["tokenIdOf"] = []interface{}{big.NewInt(7)}
	backend := newTestBackend(t, fb, nil, false)

	_, _, err := backend.TokenOf(context.Background(), testOwner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ownerOf")
}

func TestEthereumBackend_TokenOfNoToken(t *testing.T) {
	fb := newFakeBackend(t)
	fb.returns["tokenIdOf"] = []interface{}{big.NewInt(0)}
	backend := newTestBackend(t, fb, nil, false)

	id, uri, err := backend.TokenOf(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Empty(t, uri)
}

func TestEthereumBackend_PointsOf(t *testing.T) {
	fb := newFakeBackend(t)
	fb.returns["getPoints"] = []interface{}{[]*big.Int{big.NewInt(120)}}
	backend := newTestBackend(t, fb, nil, false)

	points, err := backend.PointsOf(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), points)

	fb.returns["getPoints"] = []interface{}{[]*big.Int{}}
	_, err = backend.PointsOf(context.Background(), testOwner)
	assert.ErrorIs(t, err, ErrEmptyPointsRead)

	delete(fb.returns, "getPoints")
	_, err = backend.PointsOf(context.Background(), testOwner)
	assert.Error(t, err)
}

func TestEthereumBackend_UpdateToken(t *testing.T) {
	fb := newFakeBackend(t)
	backend := newTestBackend(t, fb, testTransactor(t), true)

	hash, err := backend.UpdateToken(context.Background(), 7, "ipfs://QmNew")
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)
	assert.Equal(t, fb.sent[0].Hash(), hash)
	assert.Equal(t, nftAddress, *fb.sent[0].To())

	// The calldata is updateNFT(7, "ipfs://QmNew")
	nftABI := fb.abis[nftAddress]
	method, err := nftABI.MethodById(fb.sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "updateNFT", method.Name)
	args, err := method.Inputs.Unpack(fb.sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), args[0])
	assert.Equal(t, "ipfs://QmNew", args[1])
}

func TestEthereumBackend_UpdateTokenReverted(t *testing.T) {
	fb := newFakeBackend(t)
	fb.status = types.ReceiptStatusFailed
	backend := newTestBackend(t, fb, testTransactor(t), true)

	hash, err := backend.UpdateToken(context.Background(), 7, "ipfs://QmNew")
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestEthereumBackend_UpdateTokenDeclined(t *testing.T) {
	fb := newFakeBackend(t)
	opts := testTransactor(t)
	opts.Signer = func(common.Address, *types.Transaction) (*types.Transaction, error) {
		return nil, errors.New("Request denied")
	}
	backend := newTestBackend(t, fb, opts, false)

	_, err := backend.UpdateToken(context.Background(), 7, "ipfs://QmNew")
	assert.ErrorIs(t, err, ErrSignerDeclined)
	assert.Equal(t, KindUserDeclined, KindOf(err))
	assert.Empty(t, fb.sent)
}

func TestEthereumBackend_UpdateTokenNoSigner(t *testing.T) {
	backend := newTestBackend(t, newFakeBackend(t), nil, false)

	_, err := backend.UpdateToken(context.Background(), 7, "ipfs://QmNew")
	require.Error(t, err)
	assert.NotEqual(t, KindUserDeclined, KindOf(err))
}

func TestEthereumBackend_Info(t *testing.T) {
	fb := newFakeBackend(t)
	fb.returns["totalSupply"] = []interface{}{big.NewInt(420)}
	fb.returns["balanceOf"] = []interface{}{big.NewInt(1)}
	fb.returns["tokenIdOf"] = []interface{}{big.NewInt(7)}
	fb.returns["ownerOf"] = []interface{}{testOwner}
	fb.returns["tokenURI"] = []interface{}{"ipfs://QmCurrent"}
	fb.returns["getPoints"] = []interface{}{[]*big.Int{big.NewInt(120)}}
	backend := newTestBackend(t, fb, nil, false)

	info, err := backend.Info(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, nftAddress, info.KamonNFT)
	assert.Equal(t, pointsAddress, info.QuestPoints)
	assert.Equal(t, big.NewInt(420), info.TotalSupply)
	assert.Nil(t, info.Owner)
	assert.Nil(t, info.Balance)

	owner := testOwner
	info, err = backend.Info(context.Background(), &owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), info.Balance)
	assert.Equal(t, uint64(7), info.TokenID)
	assert.Equal(t, "ipfs://QmCurrent", info.TokenURI)
	assert.Equal(t, uint64(120), info.Points)

	delete(fb.returns, "balanceOf")
	_, err = backend.Info(context.Background(), &owner)
	assert.Error(t, err)
}

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

func TestSignerDeclined(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "sentinel", err: fmt.Errorf("wrapped: %w", ErrSignerDeclined), want: true},
		{name: "eip-1193 code", err: codedError{code: 4001, msg: "rejected"}, want: true},
		{name: "clef", err: errors.New("Request denied"), want: true},
		{name: "wallet", err: errors.New("MetaMask Tx Signature: User denied transaction signature."), want: true},
		{name: "rejected", err: errors.New("user rejected the request"), want: true},
		{name: "other rpc code", err: codedError{code: -32000, msg: "insufficient funds for gas * price + value"}, want: false},
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, signerDeclined(tt.err))
		})
	}
}
