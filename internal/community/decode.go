package community

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrMalformed is returned when a payload does not parse or does not match
// its contract.
var ErrMalformed = errors.New("malformed data")

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Required: required, Properties: props}
}

func arrayOf(item *jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: item}
}

func text() *jsonschema.Schema         { return &jsonschema.Schema{Type: "string"} }
func number() *jsonschema.Schema       { return &jsonschema.Schema{Type: "number"} }
func optionalText() *jsonschema.Schema { return &jsonschema.Schema{Types: []string{"string", "null"}} }

// Schemas for each resource. Unlisted properties are allowed: the desktop
// application writes more fields than the site reads.
var (
	DirectorySchema = &jsonschema.Schema{
		Type: "object",
		AdditionalProperties: object([]string{"id", "name"}, map[string]*jsonschema.Schema{
			"id":                  text(),
			"name":                text(),
			"personalPoints":      {Type: "integer"},
			"totalTasksCompleted": {Type: "integer"},
		}),
	}

	TradeOffersSchema = arrayOf(object([]string{"title", "description", "pointValue"}, map[string]*jsonschema.Schema{
		"id":          text(),
		"title":       text(),
		"description": text(),
		"performerID": optionalText(),
		"receiverID":  optionalText(),
		"type":        {Type: "string", Enum: []any{string(TradeTask), string(TradeGoods)}},
		"pointValue":  number(),
	}))

	GreenActionsSchema = arrayOf(object([]string{"title", "description", "pointValue"}, map[string]*jsonschema.Schema{
		"id":          text(),
		"title":       text(),
		"description": text(),
		"pointValue":  number(),
		"createdAt":   optionalText(),
	}))

	CommunalTasksSchema = arrayOf(object([]string{"title", "description", "deadline", "pointValue"}, map[string]*jsonschema.Schema{
		"title":       text(),
		"description": text(),
		"id":          text(),
		"deadline":    text(),
		"performerID": optionalText(),
		"pointValue":  number(),
	}))

	SettingsSchema = object([]string{"communityPoints", "communityGoal", "targetPoints"}, map[string]*jsonschema.Schema{
		"communityPoints": number(),
		"communityGoal":   text(),
		"targetPoints":    number(),
		"lastResetDate":   optionalText(),
	})
)

var (
	directoryContract     = mustResolve(DirectorySchema)
	tradeOffersContract   = mustResolve(TradeOffersSchema)
	greenActionsContract  = mustResolve(GreenActionsSchema)
	communalTasksContract = mustResolve(CommunalTasksSchema)
	settingsContract      = mustResolve(SettingsSchema)
)

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("community: resolving schema: %v", err))
	}
	return rs
}

// DecodeDirectory parses a members payload: an object keyed by member ID.
func DecodeDirectory(data []byte) (Directory, error) {
	return decode[Directory](data, directoryContract, "members")
}

// DecodeTradeOffers parses a trade offers payload.
func DecodeTradeOffers(data []byte) ([]TradeOffer, error) {
	return decode[[]TradeOffer](data, tradeOffersContract, "trade offers")
}

// DecodeGreenActions parses a green actions payload.
func DecodeGreenActions(data []byte) ([]GreenAction, error) {
	return decode[[]GreenAction](data, greenActionsContract, "green actions")
}

// DecodeCommunalTasks parses a communal tasks payload.
func DecodeCommunalTasks(data []byte) ([]CommunalTask, error) {
	return decode[[]CommunalTask](data, communalTasksContract, "communal tasks")
}

// DecodeSettings parses the settings payload.
func DecodeSettings(data []byte) (Settings, error) {
	return decode[Settings](data, settingsContract, "settings")
}

func decode[T any](data []byte, contract *jsonschema.Resolved, kind string) (T, error) {
	var zero T

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return zero, fmt.Errorf("%w: parsing %s: %w", ErrMalformed, kind, err)
	}
	if err := contract.Validate(instance); err != nil {
		return zero, fmt.Errorf("%w: validating %s: %w", ErrMalformed, kind, err)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("%w: decoding %s: %w", ErrMalformed, kind, err)
	}
	return out, nil
}
