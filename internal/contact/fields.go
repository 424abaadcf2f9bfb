package contact

// FieldName identifies one of the fixed fields extracted from a contact card
type FieldName string

const (
	SenderName          FieldName = "senderName"
	SenderPhoneNumber   FieldName = "senderPhoneNumber"
	ReceiverName        FieldName = "receiverName"
	ReceiverPhoneNumber FieldName = "receiverPhoneNumber"
	ReceiverAddress     FieldName = "receiverAddress"
)

// MediaRefField is the single required field of an extraction request
const MediaRefField = "mediaRef"

// FieldSpec describes one extractable field
type FieldSpec struct {
	Name        FieldName `json:"name"`
	Label       string    `json:"label"`       // CSV column header
	Description string    `json:"description"` // Extraction hint given to the model
	Required    bool      `json:"required"`
}

// fields is the process-wide field set. Order is the CSV column order.
var fields = []FieldSpec{
	{Name: SenderName, Label: "Sender Name", Description: "The sender's name."},
	{Name: SenderPhoneNumber, Label: "Sender Phone Number", Description: "The sender's phone number."},
	{Name: ReceiverName, Label: "Receiver Name", Description: "The receiver's name."},
	{Name: ReceiverPhoneNumber, Label: "Receiver Phone Number", Description: "The receiver's phone number."},
	{Name: ReceiverAddress, Label: "Receiver Address", Description: "The receiver's address."},
}

// Fields returns a copy of the field specs in column order
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(fields))
	copy(out, fields)
	return out
}

// Names returns the field names in column order
func Names() []FieldName {
	names := make([]FieldName, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Lookup returns the spec for a field name
func Lookup(name string) (FieldSpec, bool) {
	for _, f := range fields {
		if string(f.Name) == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// OutputSchema returns the JSON schema of a model response.
// In strict mode every property is required and extra properties are rejected;
// a blank field is then an empty string.
func OutputSchema(strict bool) map[string]any {
	return SchemaFor(fields, strict)
}

// SchemaFor returns the JSON schema of a response carrying specs
func SchemaFor(specs []FieldSpec, strict bool) map[string]any {
	properties := make(map[string]any, len(specs))
	var required []string
	for _, f := range specs {
		properties[string(f.Name)] = map[string]any{
			"type":        "string",
			"description": f.Description,
		}
		if strict || f.Required {
			required = append(required, string(f.Name))
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	if strict {
		schema["additionalProperties"] = false
	}
	return schema
}

// RequestSchema returns the JSON schema of an extraction request
func RequestSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			MediaRefField: map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The URL of the contact card photo.",
			},
		},
		"required": []string{MediaRefField},
	}
}
