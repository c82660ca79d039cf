package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"rewards-backend/config"
	"rewards-backend/logging"
	"rewards-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Recipient struct {
	Email string
	Name  string
}

// Directory resolves a user id to an email recipient.
type Directory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (Recipient, error)
}

// GormDirectory reads recipients from the users table.
type GormDirectory struct {
	DB *gorm.DB
}

func (d GormDirectory) Lookup(ctx context.Context, userID uuid.UUID) (Recipient, error) {
	var u models.User
	if err := d.DB.WithContext(ctx).Select("email", "name").Where("id = ?", userID).First(&u).Error; err != nil {
		return Recipient{}, fmt.Errorf("lookup recipient %s: %w", userID, err)
	}
	return Recipient{Email: u.Email, Name: u.Name}, nil
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender mails notifications over SMTP in the background.
type EmailSender struct {
	cfg      config.SMTPConfig
	users    Directory
	logger   *slog.Logger
	sendMail sendMailFunc
	wg       sync.WaitGroup
}

func NewEmailSender(cfg config.SMTPConfig, users Directory, logger *slog.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, users: users, logger: logging.OrDefault(logger), sendMail: smtp.SendMail}
}

func (s *EmailSender) Send(_ context.Context, n Notification) {
	if !s.cfg.Enabled() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The request context is usually gone by the time we run.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		to, err := s.users.Lookup(ctx, n.UserID)
		if err != nil {
			s.logger.Warn("notification recipient not found", "user_id", n.UserID, "kind", n.Kind, "error", err)
			return
		}
		subject, body := render(n, firstName(to.Name))
		if err := s.sendEmail(to.Email, subject, body); err != nil {
			s.logger.Error("failed to send notification email", "to", to.Email, "kind", n.Kind, "error", err)
		}
	}()
}

// Wait blocks until queued emails are handed to the SMTP server.
func (s *EmailSender) Wait() { s.wg.Wait() }

func (s *EmailSender) sendEmail(to, subject, htmlBody string) error {
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n",
		s.cfg.From, to, subject)
	msg := []byte(headers + htmlBody)

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := s.cfg.Host + ":" + s.cfg.Port
	return s.sendMail(addr, auth, s.cfg.From, []string{to}, msg)
}

func firstName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "there"
	}
	return strings.Fields(name)[0]
}

func render(n Notification, name string) (string, string) {
	switch n.Kind {
	case KindPremiumActivated:
		return "Your Premium membership is active",
			fmt.Sprintf(`<h2>Welcome to Premium, %s!</h2>
<p>Your membership is active until <strong>%s</strong>.</p>
<p>This cycle's coupons are waiting in your rewards wallet.</p>`, name, n.Data["end_date"])
	case KindPremiumRenewed:
		return "Your Premium membership was renewed",
			fmt.Sprintf(`<h2>Thanks for staying, %s!</h2>
<p>Cycle %s runs until <strong>%s</strong>.</p>`, name, n.Data["cycle"], n.Data["end_date"])
	case KindPremiumExpired:
		return "Your Premium membership has ended",
			fmt.Sprintf(`<h2>We miss you, %s</h2>
<p>Your Premium membership expired. Renew any time to get your coupons back.</p>`, name)
	case KindRedemptionReady:
		return fmt.Sprintf("Your reward is ready - %s", n.Data["claim_code"]),
			fmt.Sprintf(`<h2>Reward redeemed!</h2>
<p>Hi %s,</p>
<p>You redeemed <strong>%s</strong> for %s points.</p>
<p>Show the code <strong>%s</strong> to collect it.</p>`, name, n.Data["product"], n.Data["points"], n.Data["claim_code"])
	case KindCouponReset:
		return "New coupons for your billing cycle",
			fmt.Sprintf(`<h2>Fresh coupons, %s!</h2>
<p>Coupon <strong>%s</strong> is available again until %s.</p>`, name, n.Data["coupon"], n.Data["cycle_end"])
	}
	return "Rewards update", fmt.Sprintf("<p>Hi %s, there is news in your rewards account.</p>", name)
}
