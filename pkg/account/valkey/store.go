package accountvalkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/link-checkout/internal/serviceerr"
)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &store{
		valkey: valkeyClient,
		prefix: prefix,
	}
}

func (s *store) Get(ctx context.Context, objectType ObjectType, objectID string, decodeInto any) error {
	key := s.key(objectType, objectID)
	bytes, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return errors.Join(err, serviceerr.ErrNotFound)
		}

		return fmt.Errorf("executing get command: %w", err)
	}

	if err := s.decode(bytes, decodeInto); err != nil {
		return fmt.Errorf("decoding object: %w", err)
	}

	return nil
}

func (s *store) Set(ctx context.Context, objectType ObjectType, id string, val any, ttl time.Duration) error {
	key := s.key(objectType, id)
	bytes, err := s.encode(val)
	if err != nil {
		return fmt.Errorf("encoding data: %w", err)
	}

	cmd := s.valkey.B().Set().Key(key).Value(valkey.BinaryString(bytes))
	if ttl > 0 {
		seconds := max(int64(ttl/time.Second), 1)
		err = s.valkey.Do(ctx, cmd.ExSeconds(seconds).Build()).Error()
	} else {
		err = s.valkey.Do(ctx, cmd.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (s *store) Destroy(ctx context.Context, objectType ObjectType, id string) error {
	key := s.key(objectType, id)
	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *store) key(objectType ObjectType, objectID string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s:%s", objectType, objectID)
	}
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}

func (s *store) encode(v any) ([]byte, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}

	return bytes, nil
}

func (s *store) decode(data []byte, into any) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}
