package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTokenRepo はRedisのキー1つにトークンを保存するリポジトリ。
type RedisTokenRepo struct {
	client *redis.Client
	key    string
}

// NewRedisClient はアドレスとパスワードからRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisTokenRepo はRedisTokenRepoを生成する。
func NewRedisTokenRepo(client *redis.Client, slot string) *RedisTokenRepo {
	return &RedisTokenRepo{client: client, key: slot}
}

// Load はキーの値を返す。キーが存在しない場合は空文字を返す。
func (r *RedisTokenRepo) Load(ctx context.Context) (string, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token from redis: %w", err)
	}
	return val, nil
}

// Save はトークンを有効期限なしで保存する。
func (r *RedisTokenRepo) Save(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.key, token, 0).Err(); err != nil {
		return fmt.Errorf("failed to save token to redis: %w", err)
	}
	return nil
}

// Delete はキーを削除する。
func (r *RedisTokenRepo) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

var _ TokenRepository = (*RedisTokenRepo)(nil)
