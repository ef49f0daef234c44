package latestfiles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// notificationSchemaJSON describes one delivery of an object-creation
// notification: exactly one record, either a direct creation record or an
// SNS envelope whose Message re-parses as the same payload shape.
const notificationSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["Records"],
	"properties": {
		"Records": {
			"type": "array",
			"minItems": 1,
			"maxItems": 1,
			"items": {
				"type": "object",
				"anyOf": [
					{
						"required": ["Sns"],
						"properties": {
							"Sns": {
								"type": "object",
								"required": ["Message"],
								"properties": {
									"Message": {"type": "string"}
								}
							}
						}
					},
					{
						"required": ["s3"],
						"properties": {
							"s3": {
								"type": "object",
								"required": ["bucket", "object"],
								"properties": {
									"bucket": {
										"type": "object",
										"required": ["name"],
										"properties": {
											"name": {"type": "string"}
										}
									},
									"object": {
										"type": "object",
										"required": ["key"],
										"properties": {
											"key": {"type": "string"}
										}
									}
								}
							}
						}
					}
				]
			}
		}
	}
}`

var notificationSchema = compileNotificationSchema()

func compileNotificationSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(notificationSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("latestfiles: parse notification schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("notification.schema.json", doc); err != nil {
		panic(fmt.Sprintf("latestfiles: register notification schema: %v", err))
	}
	schema, err := compiler.Compile("notification.schema.json")
	if err != nil {
		panic(fmt.Sprintf("latestfiles: compile notification schema: %v", err))
	}
	return schema
}

type notificationPayload struct {
	Records []notificationRecord `json:"Records"`
}

type notificationRecord struct {
	Sns *snsEnvelope    `json:"Sns,omitempty"`
	S3  *creationRecord `json:"s3,omitempty"`
}

type snsEnvelope struct {
	Message string `json:"Message"`
}

type creationRecord struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// NormalizePayload extracts the (collection, object key) pair from a raw
// notification payload, unwrapping at most one SNS delivery envelope.
// It performs no I/O and extracts identifiers verbatim. Any shape
// violation, at the outer or the unwrapped level, is ErrMalformedEvent.
func NormalizePayload(raw []byte) (CreationEvent, error) {
	payload, err := validatePayload(raw)
	if err != nil {
		return CreationEvent{}, err
	}
	record := payload.Records[0]
	if record.Sns != nil {
		inner, innerErr := validatePayload([]byte(record.Sns.Message))
		if innerErr != nil {
			return CreationEvent{}, innerErr
		}
		record = inner.Records[0]
	}
	if record.S3 == nil {
		return CreationEvent{}, fmt.Errorf("%w: record carries no creation data", ErrMalformedEvent)
	}
	return CreationEvent{
		CollectionID: record.S3.Bucket.Name,
		ObjectKey:    record.S3.Object.Key,
	}, nil
}

func validatePayload(raw []byte) (notificationPayload, error) {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return notificationPayload{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := notificationSchema.Validate(value); err != nil {
		return notificationPayload{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	var payload notificationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return notificationPayload{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(payload.Records) != 1 {
		return notificationPayload{}, fmt.Errorf("%w: expected exactly one record, got %d", ErrMalformedEvent, len(payload.Records))
	}
	return payload, nil
}
