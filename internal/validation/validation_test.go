package validation

import (
	"strings"
	"testing"

	"github.com/hitoshi/storefront/internal/model"
)

func TestStruct_ContactMessage(t *testing.T) {
	valid := model.ContactMessage{Name: "Alice", Email: "alice@example.com", Subject: "質問", Message: "教えてください"}

	tests := []struct {
		name      string
		mutate    func(m *model.ContactMessage)
		wantError string // 空の場合は成功
	}{
		{name: "正常", mutate: func(m *model.ContactMessage) {}},
		{name: "名前なし", mutate: func(m *model.ContactMessage) { m.Name = "" }, wantError: "name: 必須です"},
		{name: "メール形式", mutate: func(m *model.ContactMessage) { m.Email = "not-an-email" }, wantError: "email: メールアドレスの形式ではありません"},
		{name: "本文が長すぎる", mutate: func(m *model.ContactMessage) { m.Message = strings.Repeat("あ", 5001) }, wantError: "message: 5000文字以内"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := Struct(m)
			if tt.wantError == "" {
				if err != nil {
					t.Fatalf("Struct がエラーを返した: %v", err)
				}
				return
			}
			if !model.HasCode(err, model.ErrCodeValidation) {
				t.Fatalf("error = %v, want %s", err, model.ErrCodeValidation)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantError)
			}
		})
	}
}

func TestStruct_MaxCountsCharacters(t *testing.T) {
	// 日本語のタイトルはバイト数ではなく文字数で判定する
	p := model.NewProduct{Title: strings.Repeat("本", 200), Category: "books"}
	if err := Struct(p); err != nil {
		t.Errorf("200文字のタイトルは許可するべき: %v", err)
	}
}

func TestFieldName(t *testing.T) {
	tests := map[string]string{
		"Title":        "title",
		"TotalRevenue": "total_revenue",
		"Description":  "description",
	}
	for in, want := range tests {
		if got := fieldName(in); got != want {
			t.Errorf("fieldName(%q) = %q, want %q", in, got, want)
		}
	}
}
