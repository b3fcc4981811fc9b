package prophecy

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/reconcile"
	"Prophet-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// CreatedTopic is the topic0 of ProphecyCreated.
var CreatedTopic = ProphetABI.Events[createdEvent].ID

var errTokenIDTopic = errors.New("ProphecyCreated: missing tokenId topic")

// Created describes a prophecy minted on chain.
type Created struct {
	TokenID         string         `json:"token_id"`
	Owner           common.Address `json:"owner"`
	Sentence        string         `json:"sentence,omitempty"`
	BettingAmount   *big.Int       `json:"betting_amount,omitempty"`
	Oracle          string         `json:"oracle,omitempty"`
	TargetDates     []time.Time    `json:"target_dates,omitempty"`
	TxHash          common.Hash    `json:"tx_hash"`
	RequestID       string         `json:"request_id,omitempty"`
	ApprovalSkipped bool           `json:"approval_skipped"`
}

// TokenID reads the indexed tokenId (topics[2]) and renders it in decimal.
func TokenID(ev web3.EventRecord) (string, error) {
	if len(ev.Topics) < 3 {
		return "", errTokenIDTopic
	}
	return ev.Topics[2].Big().String(), nil
}

// DecodeCreated decodes both the indexed and the data fields of a
// ProphecyCreated record.
func DecodeCreated(ev web3.EventRecord) (Created, error) {
	id, err := TokenID(ev)
	if err != nil {
		return Created{}, err
	}
	out := Created{TokenID: id, Owner: common.BytesToAddress(ev.Topics[1].Bytes())}

	values, err := ProphetABI.Unpack(createdEvent, ev.Data)
	if err != nil {
		return out, fmt.Errorf("unpack ProphecyCreated: %w", err)
	}
	if len(values) != 4 {
		return out, fmt.Errorf("unpack ProphecyCreated: got %d fields", len(values))
	}
	var ok bool
	if out.Sentence, ok = values[0].(string); !ok {
		return out, fmt.Errorf("ProphecyCreated.sentence: unexpected type %T", values[0])
	}
	if out.BettingAmount, ok = values[1].(*big.Int); !ok {
		return out, fmt.Errorf("ProphecyCreated.bettingAmount: unexpected type %T", values[1])
	}
	if out.Oracle, ok = values[2].(string); !ok {
		return out, fmt.Errorf("ProphecyCreated.oracle: unexpected type %T", values[2])
	}
	dates, ok := values[3].([]*big.Int)
	if !ok {
		return out, fmt.Errorf("ProphecyCreated.targetDates: unexpected type %T", values[3])
	}
	for _, d := range dates {
		out.TargetDates = append(out.TargetDates, time.Unix(d.Int64(), 0).UTC())
	}
	return out, nil
}

func eventSpec(prophet common.Address) guard.EventSpec {
	return guard.EventSpec{Emitter: prophet, Topic: CreatedTopic, Extract: TokenID}
}

// Extractor resolves the token id of a reconciled createProphecy
// transaction. Approval records carry no result and yield "".
func Extractor(prophet common.Address) reconcile.Extractor {
	return func(record *ledger.Record, receipt web3.Receipt) (string, error) {
		if record.Purpose != string(guard.PurposeAction) {
			return "", nil
		}
		ev, ok := receipt.FindEvent(prophet, CreatedTopic)
		if !ok {
			return "", errors.New("ProphecyCreated not found in receipt")
		}
		return TokenID(ev)
	}
}
