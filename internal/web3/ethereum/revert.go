package ethereum

import (
	"bytes"
	"errors"
	"strings"

	"Prophet-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// decodeRevert turns a node error into a *web3.RevertError when it signals
// an execution revert. Custom errors are looked up first in the ABI bound to
// target, then in every other bound ABI since reverts bubble up from callees.
func (c *Client) decodeRevert(target common.Address, err error) (*web3.RevertError, bool) {
	data := revertData(err)
	msg := err.Error()
	if len(data) == 0 && !strings.Contains(strings.ToLower(msg), "revert") {
		return nil, false
	}

	rev := &web3.RevertError{Data: data, Message: msg}
	if len(data) < 4 {
		return rev, true
	}
	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		rev.Reason = reason
		return rev, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if parsed, ok := c.contracts[target]; ok && matchCustomError(parsed, data, rev) {
		return rev, true
	}
	for addr, parsed := range c.contracts {
		if addr == target {
			continue
		}
		if matchCustomError(parsed, data, rev) {
			break
		}
	}
	return rev, true
}

func matchCustomError(parsed abi.ABI, data []byte, rev *web3.RevertError) bool {
	for name, custom := range parsed.Errors {
		if !bytes.Equal(custom.ID[:4], data[:4]) {
			continue
		}
		rev.Name = name
		if args, err := custom.Inputs.Unpack(data[4:]); err == nil {
			rev.Args = args
		}
		return true
	}
	return false
}

func revertData(err error) []byte {
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		decoded, derr := hexutil.Decode(v)
		if derr != nil {
			return nil
		}
		return decoded
	case []byte:
		return v
	default:
		return nil
	}
}
