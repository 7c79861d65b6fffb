package dealer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"llm-dealer/internal/fence"
	"llm-dealer/internal/types"
)

var ErrNoJSON = errors.New("no ```json block in reply")

// Reply is the decoded trade decision of one LLM round-trip.
type Reply struct {
	Instruction types.Instruction
	NextMessage string
	Reason      string
	Plan        string
}

type replyPayload struct {
	TradeInstruction string `json:"trade_instruction"`
	NextMessage      string `json:"next_message"`
	TradeReason      string `json:"trade_reason"`
	TradePlan        string `json:"trade_plan"`
}

// ParseReply decodes the fenced JSON of an LLM reply. Unknown actions
// become hold; a quantity that is neither "all" nor an integer becomes 1.
// On error the returned Reply is a hold.
func ParseReply(text string) (Reply, error) {
	hold := Reply{Instruction: types.Instruction{Action: types.ActionHold}}

	body, ok := fence.Extract(text, "json")
	if !ok {
		return hold, ErrNoJSON
	}
	var p replyPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return hold, fmt.Errorf("decode reply: %w", err)
	}

	r := Reply{
		Instruction: ParseInstruction(p.TradeInstruction),
		NextMessage: p.NextMessage,
		Reason:      p.TradeReason,
		Plan:        p.TradePlan,
	}
	return r, nil
}

// ParseInstruction reads "<action> [qty]" such as "buy 2", "sell all" or "hold".
func ParseInstruction(s string) types.Instruction {
	parts := strings.Fields(strings.ToLower(s))
	if len(parts) == 0 {
		return types.Instruction{Action: types.ActionHold}
	}

	action := types.Action(parts[0])
	switch action {
	case types.ActionBuy, types.ActionSell, types.ActionShort, types.ActionCover:
	default:
		return types.Instruction{Action: types.ActionHold}
	}

	ins := types.Instruction{Action: action, Quantity: 1}
	if len(parts) < 2 {
		return ins
	}
	if parts[1] == "all" {
		ins.All = true
		ins.Quantity = 0
		return ins
	}
	if n, err := strconv.Atoi(parts[1]); err == nil && n >= 0 {
		ins.Quantity = n
	}
	return ins
}
