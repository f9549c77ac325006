package session

import "github.com/calloway-trading/strikestream/internal/models"

// Command is an inbound client message. Exactly one field is expected per
// message: a ticker to resolve or a contract id to start tracking.
type Command struct {
	ContractID string `json:"contract_id,omitempty"`
	Ticker     string `json:"ticker,omitempty"`
}

// ChainPayload is the full-chain snapshot event pushed after every quote
// pass. Error carries auth or tracking failures; nil on the happy path.
type ChainPayload struct {
	OptionChainData models.Chain `json:"option_chain_data"`
	Error           *string      `json:"error"`
	Authentication  bool         `json:"authentication"`
}

// OrderGatePayload is the timer-gated order-eligibility event. PlaceOrder is
// nil once the countdown has expired or no timer exists.
type OrderGatePayload struct {
	PlaceOrder     *string `json:"place_order"`
	Authentication bool    `json:"authentication"`
}

func errPayload(msg string, authenticated bool) ChainPayload {
	return ChainPayload{
		OptionChainData: models.Chain{},
		Error:           &msg,
		Authentication:  authenticated,
	}
}
