package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"rewards-backend/config"
	"rewards-backend/logging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory map[uuid.UUID]Recipient

func (d fakeDirectory) Lookup(_ context.Context, id uuid.UUID) (Recipient, error) {
	r, ok := d[id]
	if !ok {
		return Recipient{}, errors.New("not found")
	}
	return r, nil
}

type mailbox struct {
	mu   sync.Mutex
	msgs []string
	to   []string
}

func (m *mailbox) send(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to...)
	m.msgs = append(m.msgs, string(msg))
	return nil
}

var smtpCfg = config.SMTPConfig{Host: "smtp.test", Port: "25", From: "rewards@test.com"}

func TestEmailSenderDelivers(t *testing.T) {
	userID := uuid.New()
	box := &mailbox{}
	s := NewEmailSender(smtpCfg, fakeDirectory{userID: {Email: "ana@test.com", Name: "Ana Lopez"}}, logging.Discard())
	s.sendMail = box.send

	s.Send(context.Background(), Notification{
		UserID: userID,
		Kind:   KindRedemptionReady,
		Data:   map[string]string{"claim_code": "R-ABC123-X9Z1", "product": "Mug", "points": "150"},
	})
	s.Wait()

	require.Len(t, box.msgs, 1)
	assert.Equal(t, []string{"ana@test.com"}, box.to)
	assert.True(t, strings.Contains(box.msgs[0], "Subject: Your reward is ready - R-ABC123-X9Z1"))
	assert.True(t, strings.Contains(box.msgs[0], "Hi Ana,"))
}

func TestEmailSenderSkipsUnknownRecipient(t *testing.T) {
	box := &mailbox{}
	s := NewEmailSender(smtpCfg, fakeDirectory{}, logging.Discard())
	s.sendMail = box.send

	s.Send(context.Background(), Notification{UserID: uuid.New(), Kind: KindCouponReset})
	s.Wait()

	assert.Empty(t, box.msgs)
}

func TestEmailSenderDisabledWithoutSMTP(t *testing.T) {
	box := &mailbox{}
	userID := uuid.New()
	s := NewEmailSender(config.SMTPConfig{}, fakeDirectory{userID: {Email: "x@test.com"}}, logging.Discard())
	s.sendMail = box.send

	s.Send(context.Background(), Notification{UserID: userID, Kind: KindPremiumActivated})
	s.Wait()

	assert.Empty(t, box.msgs)
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, b, Nop{}, LogSender{Logger: logging.Discard()}}

	m.Send(context.Background(), Notification{Kind: KindPremiumExpired})
	m.Send(context.Background(), Notification{Kind: KindCouponReset})

	assert.Len(t, a.Sent(), 2)
	assert.Len(t, b.OfKind(KindCouponReset), 1)
}

func TestRenderFallsBackForUnknownKind(t *testing.T) {
	subject, body := render(Notification{Kind: "other"}, firstName(""))
	assert.Equal(t, "Rewards update", subject)
	assert.Contains(t, body, "Hi there")
}
