package ws

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
)

// Wire error types sent to clients in the "type" field.
const (
	TypeValidation       = "ValidationError"
	TypeJSONDecode       = "JSONDecodeError"
	TypeLessBid          = "LessBidError"
	TypeTimeExceed       = "TimeExceedError"
	TypePermissionDenied = "PermissionDeniedError"
	TypeNoEntity         = "NoEntityFound"
)

// ErrorFrame is the error message shape shared by the realtime channels and
// the REST API.
type ErrorFrame struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

var (
	frameInvalidJSON = ErrorFrame{Error: "Invalid JSON format", Type: TypeJSONDecode}
	frameInvalidBid  = ErrorFrame{Error: "Invalid bid format", Type: TypeValidation}
	frameAdmin       = ErrorFrame{Error: "Admin cannot place bids", Type: TypePermissionDenied}
)

// RejectFrame converts a ledger rejection into its wire frame. ok is false
// for anything that is not a rejection, which callers treat as an internal
// failure.
func RejectFrame(err error) (frame ErrorFrame, ok bool) {
	rej, ok := auction.AsReject(err)
	if !ok {
		return ErrorFrame{}, false
	}
	switch rej.Kind {
	case auction.KindBidTooLow:
		return ErrorFrame{Error: "Place bid greater than current bid", Type: TypeLessBid}, true
	case auction.KindAuctionClosed:
		return ErrorFrame{Error: "The auction time has finished", Type: TypeTimeExceed}, true
	case auction.KindNotFound:
		return ErrorFrame{Error: "Item not found.", Type: TypeNoEntity}, true
	case auction.KindPermissionDenied:
		return frameAdmin, true
	default:
		return ErrorFrame{Error: rej.Error(), Type: TypeValidation}, true
	}
}

// bidMessage is the inbound bid frame. Amount is kept raw so a float or a
// string can be told apart from a missing field.
type bidMessage struct {
	Amount json.RawMessage `json:"amount"`
}

var errNotInteger = errors.New("ws: amount is not an integer")

// ParseBid decodes a client bid frame. It returns a frame to send back when
// the message is unusable.
func ParseBid(data []byte) (int64, *ErrorFrame) {
	var msg bidMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			// Valid JSON, wrong shape, e.g. an array.
			return 0, &frameInvalidBid
		}
		return 0, &frameInvalidJSON
	}
	amount, err := parseAmount(msg.Amount)
	if err != nil {
		return 0, &frameInvalidBid
	}
	return amount, nil
}

func parseAmount(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errNotInteger
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, errNotInteger
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, errNotInteger
	}
	amount, err := n.Int64()
	if err != nil {
		return 0, errNotInteger
	}
	return amount, nil
}
