package generate

// envelopeSchema is what the boundary enforces on raw LLM output: a tasks
// array of objects. Per-candidate validation happens after typed decoding
// so one malformed candidate never rejects the whole batch.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "tasks": { "type": "array", "items": { "type": "object" } }
  },
  "required": ["tasks"]
}`

// candidatesSchema is the strict output contract handed to exec agents,
// which can re-prompt until their output conforms.
const candidatesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": { "type": "string" },
          "from_seq": { "type": "integer", "minimum": 1 },
          "to_seq": { "type": "integer", "minimum": 1 },
          "category": {
            "type": "string",
            "enum": [
              "Order Status", "Refund Request", "Product Issue", "Account Help",
              "General Inquiry", "Complaint", "Shipping Issue", "Payment Issue"
            ]
          },
          "urgency": { "type": "string", "enum": ["low", "medium", "high"] },
          "kind": { "type": "string", "enum": ["lookup", "action"] },
          "customer_name": { "type": "string" },
          "order_ref": { "type": "string" },
          "plan": { "type": "array", "items": { "type": "string" } },
          "suggested_reply": { "type": "string" }
        },
        "required": ["description", "category", "urgency", "kind"]
      }
    }
  },
  "required": ["tasks"]
}`

// windowSchema describes the input handed to exec generators.
const windowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "utterances": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "speaker": { "type": "string" },
          "text": { "type": "string" },
          "seq": { "type": "integer" }
        },
        "required": ["speaker", "text", "seq"]
      }
    }
  },
  "required": ["utterances"]
}`
