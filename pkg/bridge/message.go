package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// HandlerName is one entry of the closed set of handlers both sides know.
type HandlerName int

const (
	HandlerDebug HandlerName = iota
	HandlerFetchClientSecret
	HandlerFetchAppearanceOptions
	HandlerFetchFonts

	handlerCount
)

var handlerNames = [handlerCount]string{
	HandlerDebug:                  "debug",
	HandlerFetchClientSecret:      "fetchClientSecret",
	HandlerFetchAppearanceOptions: "fetchAppearanceOptions",
	HandlerFetchFonts:             "fetchFonts",
}

// HandlerNames lists the complete handler set.
func HandlerNames() []HandlerName {
	names := make([]HandlerName, 0, handlerCount)
	for n := range handlerCount {
		names = append(names, n)
	}
	return names
}

func (n HandlerName) String() string {
	if !n.valid() {
		return fmt.Sprintf("handler(%d)", int(n))
	}
	return handlerNames[n]
}

func (n HandlerName) valid() bool {
	return n >= 0 && n < handlerCount
}

// ParseHandlerName resolves a wire name. Names outside the closed set are rejected.
func ParseHandlerName(s string) (HandlerName, bool) {
	for i, name := range handlerNames {
		if name == s {
			return HandlerName(i), true
		}
	}
	return 0, false
}

// Request is one inbound message from the hosted surface. Handler stays a
// string so that unknown names can still be answered.
type Request struct {
	ID      string          `json:"id"`
	Handler string          `json:"handler"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Reply answers exactly one Request. Exactly one of Value and ErrorMessage is
// set; a JSON null value counts as set.
type Reply struct {
	ID           string
	Value        json.RawMessage
	ErrorMessage string
}

var nullValue = json.RawMessage("null")

const fallbackErrorMessage = "Unknown error"

func valueReply(id string, value json.RawMessage) Reply {
	if len(value) == 0 {
		value = nullValue
	}
	return Reply{ID: id, Value: value}
}

func errorReply(id, message string) Reply {
	if message == "" {
		message = fallbackErrorMessage
	}
	return Reply{ID: id, ErrorMessage: message}
}

// IsError reports whether the reply carries an error message.
func (r Reply) IsError() bool {
	return r.ErrorMessage != ""
}

type wireReply struct {
	ID           string          `json:"id,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	w := wireReply{ID: r.ID}
	if r.IsError() {
		w.ErrorMessage = r.ErrorMessage
	} else {
		w.Value = r.Value
		if len(w.Value) == 0 {
			w.Value = nullValue
		}
	}
	return json.Marshal(w)
}

var ErrAmbiguousReply = errors.New("reply must carry exactly one of value and errorMessage")

func (r *Reply) UnmarshalJSON(data []byte) error {
	var w wireReply
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if (len(w.Value) == 0) == (w.ErrorMessage == "") {
		return ErrAmbiguousReply
	}
	*r = Reply{ID: w.ID, Value: w.Value, ErrorMessage: w.ErrorMessage}
	return nil
}
