package guard

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"Prophet-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// insufficientBalanceSelector is ERC20InsufficientBalance(address,uint256,uint256).
var insufficientBalanceSelector = hexutil.MustDecode("0xe450d38c")

const insufficientBalanceReason = "insufficient token balance"

var revertReasonPattern = regexp.MustCompile(`execution reverted: (.*)`)

const maxReasonLength = 200

// diagnosis is the outcome of classifying a failed simulation.
type diagnosis struct {
	Reason string
	Have   *big.Int
	Need   *big.Int
}

// diagnose resolves a simulation failure into a user-presentable reason.
// Decoded revert names win over Error(string) payloads, which win over text
// enrichment. The enrichment below never influences control flow.
func (r *run) diagnose(ctx context.Context, err error) diagnosis {
	var d diagnosis
	reasons := r.action.Reasons

	var rev *web3.RevertError
	if errors.As(err, &rev) {
		switch {
		case rev.Name != "":
			d.Reason = lookupReason(reasons, rev.Name)
			if d.Reason == "" {
				d.Reason = rev.Name
			}
		case rev.Reason != "":
			d.Reason = lookupReason(reasons, rev.Reason)
			if d.Reason == "" {
				d.Reason = truncateReason(rev.Reason)
			}
		}
		if have, need, ok := decodeInsufficientBalance(rev.Data); ok {
			d.Have, d.Need = have, need
			if d.Reason == "" || d.Reason == "ERC20InsufficientBalance" {
				d.Reason = firstNonEmpty(lookupReason(reasons, "ERC20InsufficientBalance"), insufficientBalanceReason)
			}
		}
	}

	raw := err.Error()
	if d.Need == nil && strings.Contains(strings.ToLower(raw), hexutil.Encode(insufficientBalanceSelector)) {
		d.Need = r.req.Amount
		if balance, berr := r.o.reader.ReadBalance(ctx, r.req.Token, r.req.Owner); berr == nil {
			d.Have = balance
		}
		if d.Reason == "" {
			d.Reason = firstNonEmpty(lookupReason(reasons, "ERC20InsufficientBalance"), insufficientBalanceReason)
		}
	}
	if d.Reason == "" {
		d.Reason = reasonFromText(raw, reasons)
	}
	return d
}

func lookupReason(reasons map[string]string, key string) string {
	if len(reasons) == 0 {
		return ""
	}
	key = strings.TrimSuffix(strings.TrimSpace(key), "()")
	return reasons[key]
}

// reasonFromText extracts a reason from provider text: a known error name
// anywhere in the text, else the tail of "execution reverted: ...".
func reasonFromText(raw string, reasons map[string]string) string {
	names := make([]string, 0, len(reasons))
	for name := range reasons {
		names = append(names, name)
	}
	// Longer names first so InsufficientAllowance wins over a shorter prefix.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		if strings.Contains(raw, name) {
			return reasons[name]
		}
	}

	match := revertReasonPattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return ""
	}
	reason := strings.TrimSpace(match[1])
	if mapped := lookupReason(reasons, reason); mapped != "" {
		return mapped
	}
	return truncateReason(reason)
}

// truncateReason caps reason at maxReasonLength bytes without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func decodeInsufficientBalance(data []byte) (have, need *big.Int, ok bool) {
	if len(data) < 4 || !bytes.Equal(data[:4], insufficientBalanceSelector) {
		return nil, nil, false
	}
	addressType, _ := abi.NewType("address", "", nil)
	uintType, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: addressType}, {Type: uintType}, {Type: uintType}}
	values, err := args.Unpack(data[4:])
	if err != nil || len(values) != 3 {
		return nil, nil, false
	}
	have, okHave := values[1].(*big.Int)
	need, okNeed := values[2].(*big.Int)
	if !okHave || !okNeed {
		return nil, nil, false
	}
	return have, need, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
