package bidi

import "encoding/json"

// frameKind tags which inboundFrame variant was produced by classify.
type frameKind int

const (
	frameUnknown frameKind = iota
	frameCommandResponse
	frameCommandError
	frameUnsolicitedError
	frameEvent
)

// inboundFrame is the result of parsing and classifying one JSON text
// message from the peer. Only the fields relevant to its kind are
// populated.
type inboundFrame struct {
	kind frameKind

	id     CommandId
	result json.RawMessage

	err ErrorResponse

	method string
	params json.RawMessage

	raw []byte
}

// classify parses raw as a JSON object and categorizes it into exactly one
// of the inbound frame kinds, per the wire protocol's classification rule:
//
//   - id present and non-null, and error present -> CommandError (error
//     takes precedence over a simultaneous result field).
//   - id present and non-null, and result present -> CommandResponse.
//   - id absent or null, and error present -> UnsolicitedError.
//   - method (string) and params both present -> Event.
//   - anything else, or a JSON parse failure -> Unknown.
func classify(raw []byte) inboundFrame {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return inboundFrame{kind: frameUnknown, raw: raw}
	}

	id, hasID := parseFrameID(fields["id"])
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	_, hasParams := fields["params"]
	methodRaw, hasMethod := fields["method"]

	switch {
	case hasID && hasError:
		var er ErrorResponse
		_ = json.Unmarshal(raw, &er)
		return inboundFrame{kind: frameCommandError, id: id, err: er, raw: raw}

	case hasID && hasResult:
		return inboundFrame{kind: frameCommandResponse, id: id, result: fields["result"], raw: raw}

	case !hasID && hasError:
		var er ErrorResponse
		_ = json.Unmarshal(raw, &er)
		return inboundFrame{kind: frameUnsolicitedError, err: er, raw: raw}

	case hasMethod && hasParams:
		var method string
		if err := json.Unmarshal(methodRaw, &method); err != nil {
			return inboundFrame{kind: frameUnknown, raw: raw}
		}
		return inboundFrame{kind: frameEvent, method: method, params: fields["params"], raw: raw}

	default:
		return inboundFrame{kind: frameUnknown, raw: raw}
	}
}

// parseFrameID reports whether the "id" field (if any) is a non-null
// integer, and its value. An absent or JSON-null id is treated identically:
// "no id", per the wire protocol's tie-break rule.
func parseFrameID(raw json.RawMessage) (CommandId, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var id uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return CommandId(id), true
}
