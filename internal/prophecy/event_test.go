package prophecy

import (
	"math/big"
	"testing"
	"time"

	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatedTopicMatchesSignature(t *testing.T) {
	want := crypto.Keccak256Hash([]byte("ProphecyCreated(address,uint256,string,uint256,string,uint256[])"))
	assert.Equal(t, want, CreatedTopic)
}

func TestDecodeCreated(t *testing.T) {
	ev := createdRecord(t, 77, "ETH above 10k", 5000000, "BBC", 1800000000, 1900000000)

	created, err := DecodeCreated(ev)
	require.NoError(t, err)
	assert.Equal(t, "77", created.TokenID)
	assert.Equal(t, owner, created.Owner)
	assert.Equal(t, "ETH above 10k", created.Sentence)
	assert.Equal(t, big.NewInt(5000000), created.BettingAmount)
	assert.Equal(t, "BBC", created.Oracle)
	assert.Equal(t, []time.Time{time.Unix(1800000000, 0).UTC(), time.Unix(1900000000, 0).UTC()}, created.TargetDates)
}

func TestTokenIDRendersLargeIDsInDecimal(t *testing.T) {
	id, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	ev := web3.EventRecord{Topics: []common.Hash{CreatedTopic, {}, common.BigToHash(id)}}
	got, err := TokenID(ev)
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", got)

	_, err = TokenID(web3.EventRecord{Topics: []common.Hash{CreatedTopic}})
	assert.ErrorIs(t, err, errTokenIDTopic)
}

func TestExtractor(t *testing.T) {
	extract := Extractor(prophet)
	receipt := web3.Receipt{Status: web3.ReceiptSuccess, Events: []web3.EventRecord{createdRecord(t, 9, "s", 1, "AP", 1800000000)}}

	id, err := extract(&ledger.Record{Purpose: string(guard.PurposeAction)}, receipt)
	require.NoError(t, err)
	assert.Equal(t, "9", id)

	id, err = extract(&ledger.Record{Purpose: string(guard.PurposeAllowanceGrant)}, receipt)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = extract(&ledger.Record{Purpose: string(guard.PurposeAction)}, web3.Receipt{Status: web3.ReceiptSuccess})
	assert.Error(t, err)
}

func TestReasonsCoverContractErrors(t *testing.T) {
	reasons := Reasons()
	for name := range ProphetABI.Errors {
		assert.NotEmpty(t, reasons[name], name)
	}
	assert.Equal(t, "Insufficient USDC allowance", reasons["InsufficientAllowance"])

	reasons["InvalidDate"] = "changed"
	assert.Equal(t, "Invalid date", Reasons()["InvalidDate"])
}
