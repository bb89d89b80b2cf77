package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileSlot はトークンファイル内の1スロット分のレコード。
type fileSlot struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileTokenRepo はローカルのJSONファイルにトークンを保存するリポジトリ。
// ファイルはスロット名をキーとするオブジェクトで、権限0600で書き込む。
type FileTokenRepo struct {
	path string
	slot string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileTokenRepo はFileTokenRepoを生成する。
func NewFileTokenRepo(path, slot string) *FileTokenRepo {
	return &FileTokenRepo{path: path, slot: slot, now: time.Now}
}

// Load は保存されたトークンを返す。ファイルやスロットが存在しない場合は空文字を返す。
func (r *FileTokenRepo) Load(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, err := r.read()
	if err != nil {
		return "", err
	}
	return slots[r.slot].Value, nil
}

// Save はトークンを保存する。
func (r *FileTokenRepo) Save(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, err := r.read()
	if err != nil {
		return err
	}
	slots[r.slot] = fileSlot{Value: token, UpdatedAt: r.now().UTC()}
	return r.write(slots)
}

// Delete はスロットを削除する。
func (r *FileTokenRepo) Delete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, err := r.read()
	if err != nil {
		return err
	}
	if _, ok := slots[r.slot]; !ok {
		return nil
	}
	delete(slots, r.slot)
	return r.write(slots)
}

func (r *FileTokenRepo) read() (map[string]fileSlot, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]fileSlot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	slots := map[string]fileSlot{}
	if len(data) == 0 {
		return slots, nil
	}
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	return slots, nil
}

// write は一時ファイルに書いてからリネームする。途中で落ちても既存ファイルは壊れない。
func (r *FileTokenRepo) write(slots map[string]fileSlot) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

var _ TokenRepository = (*FileTokenRepo)(nil)
