package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	raw, err := Build(Message{
		From:    "shop@example.com",
		To:      []string{"ann@example.com"},
		Subject: "Orderbekräftelse",
		Body:    "Hej\nTack!",
	}, now)
	require.NoError(t, err)
	s := string(raw)
	require.Contains(t, s, "From: shop@example.com\r\n")
	require.Contains(t, s, "To: ann@example.com\r\n")
	require.Contains(t, s, "Subject: =?utf-8?q?")
	require.Contains(t, s, "@example.com>\r\n")
	require.True(t, strings.HasSuffix(s, "\r\n\r\nHej\r\nTack!\r\n"))
}

func TestBuildRejectsInvalid(t *testing.T) {
	_, err := Build(Message{From: "a@example.com", Subject: "x", Body: "y"}, time.Now())
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = Build(Message{From: "a@example.com", To: []string{"b@example.com"}, Subject: "x\r\nBcc: evil@example.com", Body: "y"}, time.Now())
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestOrderNotice(t *testing.T) {
	n := OrderNotice{
		To:         "ann@example.com",
		Subject:    "Order confirmation",
		Greeting:   "Thank you for your order!",
		OrderLabel: "Order number",
		OrderID:    "ORD-1",
		Lines:      []NoticeLine{{Quantity: 2, Description: "Wool socks", Amount: "$20.00"}},
		TotalLabel: "Total",
		Total:      "$25.00",
	}
	msg, err := n.Message("shop@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"ann@example.com"}, msg.To)
	require.Contains(t, msg.Body, "Order number: ORD-1")
	require.Contains(t, msg.Body, "2 x Wool socks  $20.00")
	require.Contains(t, msg.Body, "Total: $25.00")

	rec := &Recorder{}
	require.NoError(t, rec.Send(context.Background(), msg))
	require.Len(t, rec.Sent(), 1)
}
