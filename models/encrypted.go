package models

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"gorm.io/gorm/schema"

	"slack-thank-you/crypto"
)

// EncryptedSerializerName は暗号化カラムに付けるシリアライザ名
// 例: `gorm:"serializer:encrypted"`
const EncryptedSerializerName = "encrypted"

var textCipher atomic.Pointer[crypto.Cipher]

func init() {
	schema.RegisterSerializer(EncryptedSerializerName, EncryptedSerializer{})
}

// SetEncryptionSecret はプロセス全体で使うテキスト暗号化シークレットを設定する
// 空文字を渡すと暗号化を無効にし、平文で保存する
func SetEncryptionSecret(secret string) error {
	if secret == "" {
		textCipher.Store(nil)
		return nil
	}

	c, err := crypto.NewCipher(secret)
	if err != nil {
		return err
	}
	textCipher.Store(c)
	return nil
}

// EncryptionEnabled は暗号化シークレットが設定されているかを返す
func EncryptionEnabled() bool {
	return textCipher.Load() != nil
}

// EncryptedSerializer は文字列カラムを透過的に暗号化・復号する
type EncryptedSerializer struct{}

// Scan はDBの値を復号してフィールドに設定する
func (EncryptedSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	var stored string
	switch v := dbValue.(type) {
	case nil:
		stored = ""
	case []byte:
		stored = string(v)
	case string:
		stored = v
	default:
		return fmt.Errorf("unsupported value for encrypted column %s: %#v", field.Name, dbValue)
	}

	plain := stored
	if c := textCipher.Load(); c != nil && stored != "" {
		decrypted, err := c.Decrypt(stored)
		if err != nil {
			return fmt.Errorf("failed to decrypt column %s: %w", field.Name, err)
		}
		plain = decrypted
	}

	field.ReflectValueOf(ctx, dst).SetString(plain)
	return nil
}

// Value はフィールドの値を暗号化してDBに渡す
func (EncryptedSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	plain, ok := fieldValue.(string)
	if !ok {
		return nil, fmt.Errorf("encrypted column %s must be a string, got %T", field.Name, fieldValue)
	}

	c := textCipher.Load()
	if c == nil || plain == "" {
		return plain, nil
	}
	return c.Encrypt(plain)
}
