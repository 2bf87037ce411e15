package extraction

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const receiptSchemaJSON = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "success": {"type": "boolean"},
    "message": {"type": ["string", "null"]},
    "data": {
      "type": "object",
      "properties": {
        "raw_text": {"type": ["string", "null"]},
        "processing_status": {"type": ["string", "null"]},
        "error": {"type": ["string", "null"]},
        "confidence_score": {"type": ["number", "null"]},
        "extracted_data": {
          "type": ["object", "null"],
          "properties": {
            "amount": {"type": ["number", "string", "null"]},
            "date": {"type": ["string", "null"]},
            "vendor": {"type": ["string", "null"]},
            "currency": {"type": ["string", "null"]}
          }
        }
      }
    }
  }
}`

const statementSchemaJSON = `{
  "type": "object",
  "required": ["transactions"],
  "properties": {
    "account_number": {"type": ["string", "null"]},
    "account_holder": {"type": ["string", "null"]},
    "statement_period": {"type": ["string", "null"]},
    "opening_balance": {"type": ["number", "null"]},
    "closing_balance": {"type": ["number", "null"]},
    "total_credits": {"type": "number"},
    "total_debits": {"type": "number"},
    "transaction_count": {"type": "integer", "minimum": 0},
    "transactions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["date", "description", "amount", "transaction_type"],
        "properties": {
          "date": {"type": "string"},
          "description": {"type": "string"},
          "amount": {"type": ["number", "string"]},
          "balance": {"type": ["number", "string", "null"]},
          "transaction_type": {"type": "string"},
          "category": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var (
	receiptSchema   = jsonschema.MustCompileString("receipt.json", receiptSchemaJSON)
	statementSchema = jsonschema.MustCompileString("statement.json", statementSchemaJSON)
)

// validateBody checks raw against schema before it is mapped onto Go types.
func validateBody(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
