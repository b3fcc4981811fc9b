package prophecy

import (
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"Prophet-Chain/internal/guard"
	"Prophet-Chain/internal/oracle"
)

// MaxSentenceLength is the longest prophecy text accepted, in characters.
const MaxSentenceLength = 140

// Input is a prophecy as submitted by a caller.
type Input struct {
	Sentence      string      `json:"sentence"`
	BettingAmount string      `json:"betting_amount"`
	Oracle        string      `json:"oracle"`
	TargetDates   []time.Time `json:"target_dates"`
}

// prepared is an Input converted to contract arguments.
type prepared struct {
	sentence string
	amount   *big.Int
	oracle   string
	dates    []time.Time
	unix     []*big.Int
}

// prepare checks what the orchestrator cannot know about: text length, the
// decimal amount and the oracle catalog. Blank fields and past dates are left
// to the orchestrator's own validation.
func prepare(in Input, decimals uint8, catalog oracle.Catalog) (prepared, error) {
	p := prepared{
		sentence: strings.TrimSpace(in.Sentence),
		oracle:   strings.TrimSpace(in.Oracle),
		dates:    in.TargetDates,
	}
	if utf8.RuneCountInString(p.sentence) > MaxSentenceLength {
		return p, guard.ValidationFailed("sentence")
	}

	amount, err := ParseUnits(in.BettingAmount, decimals)
	if err != nil || amount.Sign() <= 0 {
		return p, guard.ValidationFailed("betting_amount")
	}
	p.amount = amount

	if p.oracle != "" && catalog != nil {
		known, ok := catalog.Lookup(p.oracle)
		if !ok {
			return p, guard.ValidationFailed("oracle")
		}
		p.oracle = known.ID
	}

	p.unix = make([]*big.Int, 0, len(in.TargetDates))
	for _, d := range in.TargetDates {
		p.unix = append(p.unix, big.NewInt(d.Unix()))
	}
	return p, nil
}
