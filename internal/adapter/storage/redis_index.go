package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/catalog/internal/core/domain"
	"github.com/rl1809/catalog/internal/core/search"
	"github.com/rl1809/catalog/internal/port"
)

const (
	DefaultSearchKeyPrefix = "catalog:search:"

	maxWatchRetries = 5
	scanBatchSize   = 500
)

var _ port.SearchIndex = (*RedisIndex)(nil)

// RedisIndex keeps one hash per document plus a bigram inverted index used
// to narrow the candidates of a query:
//
//	<prefix>doc:<id>     hash {name, description}
//	<prefix>ids          set of every indexed id
//	<prefix>gram:<gram>  set of ids whose tokens contain gram
type RedisIndex struct {
	client *redis.Client
	prefix string
}

func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = DefaultSearchKeyPrefix
	}
	return &RedisIndex{client: client, prefix: prefix}
}

func (r *RedisIndex) docKey(id int64) string { return r.prefix + "doc:" + strconv.FormatInt(id, 10) }
func (r *RedisIndex) gramKey(gram string) string { return r.prefix + "gram:" + gram }
func (r *RedisIndex) idsKey() string { return r.prefix + "ids" }

func (r *RedisIndex) Upsert(ctx context.Context, doc domain.SearchDocument) error {
	return r.watchDoc(ctx, doc.ID, func(tx *redis.Tx, old map[string]string) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(old) > 0 {
				r.dropGrams(ctx, pipe, documentFromHash(doc.ID, old))
			}
			r.addDocument(ctx, pipe, doc)
			return nil
		})
		return err
	})
}

func (r *RedisIndex) Delete(ctx context.Context, id int64) error {
	return r.watchDoc(ctx, id, func(tx *redis.Tx, old map[string]string) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(old) > 0 {
				r.dropGrams(ctx, pipe, documentFromHash(id, old))
			}
			pipe.Del(ctx, r.docKey(id))
			pipe.SRem(ctx, r.idsKey(), id)
			return nil
		})
		return err
	})
}

func (r *RedisIndex) Query(ctx context.Context, term string) ([]int64, error) {
	if strings.TrimSpace(term) == "" {
		return []int64{}, nil
	}

	var (
		members []string
		err     error
	)
	grams, fullScan := search.QueryGrams(term)
	if fullScan {
		members, err = r.client.SMembers(ctx, r.idsKey()).Result()
	} else {
		keys := make([]string, len(grams))
		for i, g := range grams {
			keys[i] = r.gramKey(g)
		}
		members, err = r.client.SUnion(ctx, keys...).Result()
	}
	if err != nil {
		return nil, unavailable("query candidates", err)
	}
	if len(members) == 0 {
		return []int64{}, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.docKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("load candidates", err)
	}

	docs := make([]domain.SearchDocument, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		docs = append(docs, documentFromHash(ids[i], fields))
	}
	return search.Rank(term, docs), nil
}

// Rebuild drops every key under the prefix and re-adds docs in one MULTI,
// so running it twice leaves the same content.
func (r *RedisIndex) Rebuild(ctx context.Context, docs []domain.SearchDocument) error {
	var stale []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		stale = append(stale, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return unavailable("scan index keys", err)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(stale); start += scanBatchSize {
			end := min(start+scanBatchSize, len(stale))
			pipe.Del(ctx, stale[start:end]...)
		}
		for _, doc := range docs {
			r.addDocument(ctx, pipe, doc)
		}
		return nil
	})
	if err != nil {
		return unavailable("rebuild index", err)
	}
	return nil
}

func (r *RedisIndex) addDocument(ctx context.Context, pipe redis.Pipeliner, doc domain.SearchDocument) {
	pipe.HSet(ctx, r.docKey(doc.ID), "name", doc.Name, "description", doc.Description)
	pipe.SAdd(ctx, r.idsKey(), doc.ID)
	for _, g := range search.DocumentGrams(doc) {
		pipe.SAdd(ctx, r.gramKey(g), doc.ID)
	}
}

func (r *RedisIndex) dropGrams(ctx context.Context, pipe redis.Pipeliner, doc domain.SearchDocument) {
	for _, g := range search.DocumentGrams(doc) {
		pipe.SRem(ctx, r.gramKey(g), doc.ID)
	}
}

// watchDoc runs fn with the current hash of a document under WATCH, retrying
// when a concurrent writer touches the same document.
func (r *RedisIndex) watchDoc(ctx context.Context, id int64, fn func(tx *redis.Tx, old map[string]string) error) error {
	key := r.docKey(id)
	txf := func(tx *redis.Tx) error {
		old, err := tx.HGetAll(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return fn(tx, old)
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unavailable(fmt.Sprintf("write document %d", id), err)
	}
	return unavailable(fmt.Sprintf("write document %d", id), redis.TxFailedErr)
}

func documentFromHash(id int64, fields map[string]string) domain.SearchDocument {
	return domain.SearchDocument{ID: id, Name: fields["name"], Description: fields["description"]}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrIndexUnavailable, op, err)
}
