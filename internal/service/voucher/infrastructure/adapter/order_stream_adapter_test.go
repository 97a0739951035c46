package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashdeal/internal/service/voucher/domain/port"

	"github.com/pkg/errors"
)

func TestParseOrderRecord_OK(t *testing.T) {
	rec, err := parseOrderRecord("1692-0", map[string]interface{}{
		"id":        "123456789",
		"userId":    "1001",
		"voucherId": "7",
	})
	require.NoError(t, err)

	assert.Equal(t, "1692-0", rec.ID)
	assert.Equal(t, int64(123456789), rec.Order.OrderID)
	assert.Equal(t, int64(1001), rec.Order.UserID)
	assert.Equal(t, int64(7), rec.Order.VoucherID)
	assert.Equal(t, "1001", rec.Raw["userId"])
}

func TestParseOrderRecord_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]interface{}
	}{
		{"缺字段", map[string]interface{}{"userId": "1001"}},
		{"非数字", map[string]interface{}{"id": "x", "userId": "1001", "voucherId": "7"}},
		{"空消息", map[string]interface{}{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := parseOrderRecord("1692-1", tc.values)
			require.Error(t, err)
			// errors.Wrapf 包装后 ErrMalformedRecord 仍可被 errors.Is 识别
			assert.True(t, errors.Is(err, port.ErrMalformedRecord))
			// ID 和原始字段保留给死信路径
			require.NotNil(t, rec)
			assert.Equal(t, "1692-1", rec.ID)
		})
	}
}

func TestParseOrderRecord_IgnoresNonStringValues(t *testing.T) {
	rec, err := parseOrderRecord("1692-2", map[string]interface{}{
		"id":        "1",
		"userId":    "2",
		"voucherId": "3",
		"junk":      42,
	})
	require.NoError(t, err)
	_, ok := rec.Raw["junk"]
	assert.False(t, ok)
}
