package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const sizeField = "size"

// RedisPageStore keeps an image in one hash: field "size" holds the page
// count and field "p:<n>" holds page n. Writes go through MULTI/EXEC.
type RedisPageStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisPageStore(client redis.UniversalClient, image string) *RedisPageStore {
	return &RedisPageStore{client: client, key: "emrvault:image:" + image}
}

func pageField(n uint64) string {
	return "p:" + strconv.FormatUint(n, 10)
}

func (s *RedisPageStore) LoadPages(ctx context.Context) (map[uint64][]byte, uint64, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load image %s: %w", s.key, err)
	}
	pages := make(map[uint64][]byte, len(fields))
	var size uint64
	for field, value := range fields {
		if field == sizeField {
			if size, err = strconv.ParseUint(value, 10, 64); err != nil {
				return nil, 0, fmt.Errorf("parse image size: %w", err)
			}
			continue
		}
		raw, ok := strings.CutPrefix(field, "p:")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("parse page field %q: %w", field, err)
		}
		pages[n] = []byte(value)
	}
	return pages, size, nil
}

func (s *RedisPageStore) StorePages(ctx context.Context, pages map[uint64][]byte, size uint64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values := make([]any, 0, 2+2*len(pages))
		values = append(values, sizeField, strconv.FormatUint(size, 10))
		for n, data := range pages {
			values = append(values, pageField(n), data)
		}
		pipe.HSet(ctx, s.key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store pages in %s: %w", s.key, err)
	}
	return nil
}
