package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"snowbridge/internal/domain"
)

// Operation types the orchestrator sends for storage access.
const (
	OpRead         = "storage_read"
	OpReadJSON     = "storage_read_json"
	OpWrite        = "storage_write"
	OpDelete       = "storage_delete"
	OpPresignedURL = "storage_generate_presigned_url"
	OpIsPrivate    = "storage_is_bucket_private"
)

// DefaultPresignExpirySeconds applies when an operation omits expiration.
const DefaultPresignExpirySeconds = 300

// operationParams are the storage fields carried flat on an operation.
type operationParams struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	ObjToWrite json.RawMessage `json:"obj_to_write"`
	Decompress bool            `json:"decompress"`
	Encoding   string          `json:"encoding"`
	Expiration int             `json:"expiration"`
}

// Service executes backend-driven storage operations against a client.
type Service struct {
	client Client
}

// NewService creates the storage operation dispatcher.
func NewService(client Client) *Service {
	return &Service{client: client}
}

// Supports reports whether operationType is a storage operation.
func Supports(operationType string) bool {
	switch operationType {
	case OpRead, OpReadJSON, OpWrite, OpDelete, OpPresignedURL, OpIsPrivate:
		return true
	}
	return false
}

// Execute runs one storage operation and returns its result value. The raw
// operation body is decoded here so each type can pick its own parameters.
func (s *Service) Execute(ctx context.Context, operation json.RawMessage) (interface{}, error) {
	var params operationParams
	if err := json.Unmarshal(operation, &params); err != nil {
		return nil, domain.ErrValidation("malformed storage operation: %v", err)
	}

	switch params.Type {
	case OpRead:
		return s.read(ctx, params)
	case OpReadJSON:
		return s.readJSON(ctx, params)
	case OpWrite:
		return s.write(ctx, params)
	case OpDelete:
		return s.delete(ctx, params)
	case OpPresignedURL:
		return s.presignedURL(ctx, params)
	case OpIsPrivate:
		return s.client.IsBucketPrivate(), nil
	default:
		return nil, domain.ErrValidation("invalid operation type: %s", params.Type)
	}
}

func (s *Service) read(ctx context.Context, params operationParams) (interface{}, error) {
	key, err := requireKey(params)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if params.Decompress {
		if data, err = Gunzip(data); err != nil {
			return nil, err
		}
	}
	if params.Encoding != "" {
		return string(data), nil
	}
	// Binary contents travel as a tagged value so JSON can carry them.
	return map[string]interface{}{
		domain.TypeKey: domain.TypeBytes,
		domain.DataKey: base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (s *Service) readJSON(ctx context.Context, params operationParams) (interface{}, error) {
	key, err := requireKey(params)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode storage object %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Service) write(ctx context.Context, params operationParams) (interface{}, error) {
	key, err := requireKey(params)
	if err != nil {
		return nil, err
	}
	data, write, err := decodeWritePayload(params.ObjToWrite)
	if err != nil {
		return nil, err
	}
	if !write {
		return map[string]interface{}{}, nil
	}
	if err := s.client.Write(ctx, key, data); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

func (s *Service) delete(ctx context.Context, params operationParams) (interface{}, error) {
	key, err := requireKey(params)
	if err != nil {
		return nil, err
	}
	if err := s.client.Delete(ctx, key); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

func (s *Service) presignedURL(ctx context.Context, params operationParams) (interface{}, error) {
	key, err := requireKey(params)
	if err != nil {
		return nil, err
	}
	expiry := params.Expiration
	if expiry <= 0 {
		expiry = DefaultPresignExpirySeconds
	}
	return s.client.PresignedURL(ctx, key, time.Duration(expiry)*time.Second)
}

func requireKey(params operationParams) (string, error) {
	if params.Key == "" {
		return "", domain.ErrValidation("key is required")
	}
	return params.Key, nil
}

// decodeWritePayload accepts a plain string or a tagged bytes value. A null
// or empty payload is a no-op, matching how callers probe for writability.
func decodeWritePayload(raw json.RawMessage) (data []byte, write bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, false, nil
		}
		return []byte(text), true, nil
	}
	var taggedValue struct {
		Type string `json:"__type__"`
		Data string `json:"__data__"`
	}
	if err := json.Unmarshal(raw, &taggedValue); err == nil && taggedValue.Type == domain.TypeBytes {
		decoded, err := base64.StdEncoding.DecodeString(taggedValue.Data)
		if err != nil {
			return nil, false, domain.ErrValidation("invalid bytes payload for obj_to_write: %v", err)
		}
		return decoded, true, nil
	}
	return nil, false, domain.ErrValidation("invalid type for obj_to_write parameter")
}
