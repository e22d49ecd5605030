package llms

import (
	"encoding/base64"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Messages marshal to an OpenAI-style envelope. A message with a single
// text part collapses to {"role","text"}; anything else carries a
// "parts" array where each part is tagged with a "type" discriminator.

type messageJSON struct {
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`
}

type imageURLJSON struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type binaryJSON struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

type toolCallJSON struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	FunctionCall *FunctionCall `json:"function"`
}

type toolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// partJSON is the union decoded for each element of "parts".
type partJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ImageURL     *imageURLJSON     `json:"image_url,omitempty"`
	Binary       *binaryJSON       `json:"binary,omitempty"`
	ToolCall     *toolCallJSON     `json:"tool_call,omitempty"`
	ToolResponse *toolResponseJSON `json:"tool_response,omitempty"`
}

// MarshalJSON implements json.Marshaler for Message.
func (mc Message) MarshalJSON() ([]byte, error) {
	if len(mc.Parts) == 1 {
		if tp, ok := mc.Parts[0].(TextContent); ok {
			return json.Marshal(messageJSON{
				Role: mc.Role,
				Text: tp.Text,
			})
		}
	}

	return json.Marshal(struct {
		Role  Role          `json:"role"`
		Parts []ContentPart `json:"parts"`
	}{
		Role:  mc.Role,
		Parts: mc.Parts,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Message.
func (mc *Message) UnmarshalJSON(data []byte) error {
	var msg messageJSON
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	mc.Role = msg.Role

	if msg.Text != "" {
		mc.Parts = []ContentPart{TextContent{Text: msg.Text}}
		return nil
	}

	// parts are polymorphic, decode each by its type tag
	var rawMsg map[string]any
	if err := json.Unmarshal(data, &rawMsg); err != nil {
		return err
	}

	partsRaw, ok := rawMsg["parts"]
	if !ok {
		return nil
	}
	partsArray, ok := partsRaw.([]any)
	if !ok {
		return errors.New("parts field must be an array")
	}

	for _, partRaw := range partsArray {
		partData, err := json.Marshal(partRaw)
		if err != nil {
			return err
		}

		var pj partJSON
		if err := json.Unmarshal(partData, &pj); err != nil {
			return err
		}

		part, err := decodePart(pj)
		if err != nil {
			return err
		}
		mc.Parts = append(mc.Parts, part)
	}

	return nil
}

func decodePart(pj partJSON) (ContentPart, error) {
	switch pj.Type {
	case "text", "":
		return TextContent{Text: pj.Text}, nil
	case "image_url":
		if pj.ImageURL == nil {
			return nil, errors.New("image_url field is required for image_url type")
		}
		return ImageURLContent{
			URL:    pj.ImageURL.URL,
			Detail: pj.ImageURL.Detail,
		}, nil
	case "binary":
		if pj.Binary == nil {
			return nil, errors.New("binary field is required for binary type")
		}
		decoded, err := base64.StdEncoding.DecodeString(pj.Binary.Data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode binary data")
		}
		return BinaryContent{
			MIMEType: pj.Binary.MIMEType,
			Data:     decoded,
		}, nil
	case "tool_call":
		if pj.ToolCall == nil {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		return ToolCall{
			ID:           pj.ToolCall.ID,
			Type:         pj.ToolCall.Type,
			FunctionCall: pj.ToolCall.FunctionCall,
		}, nil
	case "tool_response":
		if pj.ToolResponse == nil {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		return ToolCallResponse{
			ToolCallID: pj.ToolResponse.ToolCallID,
			Name:       pj.ToolResponse.Name,
			Content:    pj.ToolResponse.Content,
		}, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", pj.Type)
	}
}

// MarshalJSON implements json.Marshaler for TextContent.
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text string `json:"text"`
		Type string `json:"type"`
	}{
		Text: tc.Text,
		Type: "text",
	})
}

// UnmarshalJSON implements json.Unmarshaler for TextContent.
func (tc *TextContent) UnmarshalJSON(data []byte) error {
	var v struct {
		Text string `json:"text"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Type != "text" {
		return errors.Newf("invalid type for TextContent: %v", v.Type)
	}
	tc.Text = v.Text
	return nil
}

// MarshalJSON implements json.Marshaler for ImageURLContent.
func (iuc ImageURLContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		ImageURL imageURLJSON `json:"image_url"`
	}{
		Type: "image_url",
		ImageURL: imageURLJSON{
			URL:    iuc.URL,
			Detail: iuc.Detail,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ImageURLContent.
func (iuc *ImageURLContent) UnmarshalJSON(data []byte) error {
	var v struct {
		Type     string       `json:"type"`
		ImageURL imageURLJSON `json:"image_url"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Type != "image_url" {
		return errors.Newf("invalid type for ImageURLContent: %v", v.Type)
	}
	if v.ImageURL.URL == "" {
		return errors.New("missing url field in ImageURLContent")
	}
	iuc.URL = v.ImageURL.URL
	iuc.Detail = v.ImageURL.Detail
	return nil
}

// MarshalJSON implements json.Marshaler for BinaryContent.
func (bc BinaryContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string     `json:"type"`
		Binary binaryJSON `json:"binary"`
	}{
		Type: "binary",
		Binary: binaryJSON{
			MIMEType: bc.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(bc.Data),
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for BinaryContent.
func (bc *BinaryContent) UnmarshalJSON(data []byte) error {
	var v struct {
		Type   string     `json:"type"`
		Binary binaryJSON `json:"binary"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Type != "binary" {
		return errors.Newf("invalid type for BinaryContent: %v", v.Type)
	}
	if v.Binary.Data == "" {
		return errors.New("missing data field in BinaryContent")
	}
	if v.Binary.MIMEType == "" {
		return errors.New("missing mime_type field in BinaryContent")
	}
	decoded, err := base64.StdEncoding.DecodeString(v.Binary.Data)
	if err != nil {
		return errors.Wrap(err, "error decoding base64 data")
	}
	bc.MIMEType = v.Binary.MIMEType
	bc.Data = decoded
	return nil
}

// toolCallOrderedJSON fixes the marshaled field order to
// function, id, type. Decoding stays permissive.
type toolCallOrderedJSON struct {
	FunctionCall *FunctionCall `json:"function"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
}

// MarshalJSON implements json.Marshaler for ToolCall.
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string              `json:"type"`
		ToolCall toolCallOrderedJSON `json:"tool_call"`
	}{
		Type: "tool_call",
		ToolCall: toolCallOrderedJSON{
			FunctionCall: tc.FunctionCall,
			ID:           tc.ID,
			Type:         tc.Type,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCall.
// The function field is optional: when missing or malformed the call
// decodes with an empty FunctionCall rather than failing.
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var rawMsg map[string]any
	if err := json.Unmarshal(data, &rawMsg); err != nil {
		return err
	}

	if rawType, ok := rawMsg["type"].(string); !ok || rawType != "tool_call" {
		return errors.Newf("invalid type for ToolCall: %v", rawMsg["type"])
	}

	toolCallRaw, ok := rawMsg["tool_call"].(map[string]any)
	if !ok {
		return errors.New("invalid tool_call field in ToolCall")
	}

	id, ok := toolCallRaw["id"].(string)
	if !ok || id == "" {
		return errors.New("missing id field in ToolCall")
	}

	typ, ok := toolCallRaw["type"].(string)
	if !ok || typ == "" {
		return errors.New("missing type field in ToolCall")
	}

	functionCall := &FunctionCall{}
	if functionMap, ok := toolCallRaw["function"].(map[string]any); ok {
		functionCall.Name, _ = functionMap["name"].(string)
		functionCall.Arguments, _ = functionMap["arguments"].(string)
	}

	tc.ID = id
	tc.Type = typ
	tc.FunctionCall = functionCall
	return nil
}

// MarshalJSON implements json.Marshaler for ToolCallResponse.
// Field order is fixed to tool_call_id, name, content.
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string           `json:"type"`
		ToolResponse toolResponseJSON `json:"tool_response"`
	}{
		Type: "tool_response",
		ToolResponse: toolResponseJSON{
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
			Content:    tc.Content,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCallResponse.
func (tc *ToolCallResponse) UnmarshalJSON(data []byte) error {
	var v struct {
		Type         string           `json:"type"`
		ToolResponse toolResponseJSON `json:"tool_response"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Type != "tool_response" {
		return errors.Newf("invalid type for ToolCallResponse: %v", v.Type)
	}
	if v.ToolResponse.ToolCallID == "" {
		return errors.New("missing tool_call_id field in ToolCallResponse")
	}
	if v.ToolResponse.Name == "" {
		return errors.New("missing name field in ToolCallResponse")
	}
	if v.ToolResponse.Content == "" {
		return errors.New("missing content field in ToolCallResponse")
	}
	tc.ToolCallID = v.ToolResponse.ToolCallID
	tc.Name = v.ToolResponse.Name
	tc.Content = v.ToolResponse.Content
	return nil
}
